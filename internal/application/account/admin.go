package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/otpbroker/internal/infrastructure/filestore"
	"github.com/Zhima-Mochi/otpbroker/internal/observability"
)

const adminService = "admin-service"

type AdminAuthorizer interface {
	Authorize(ctx context.Context, requesterID string) error
	AuthorizeAdmin(ctx context.Context, requesterID string) error
	Grant(id string)
	Revoke(id string)
	Users() []string
}

type Catalog interface {
	List(ctx context.Context) []filestore.CatalogEntry
	Add(ctx context.Context, id, name string) error
	Remove(ctx context.Context, id string) error
}

// Admin manages the service catalog and the authorized users. Listing the
// catalog is open to every authorized requester; changes need an admin.
type Admin struct {
	catalog Catalog
	auth    AdminAuthorizer
	in      instruments
}

func NewAdmin(catalog Catalog, auth AdminAuthorizer, tel observability.Observability) *Admin {
	return &Admin{catalog: catalog, auth: auth, in: newInstruments(tel, adminService)}
}

func (a *Admin) Catalog(ctx context.Context, requesterID string) ([]filestore.CatalogEntry, error) {
	return run(ctx, a.in, "admin.catalog_list", "ListCatalog", func(ctx context.Context) ([]filestore.CatalogEntry, error) {
		if err := a.auth.Authorize(ctx, requesterID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
		}
		return a.catalog.List(ctx), nil
	})
}

func (a *Admin) AddService(ctx context.Context, requesterID, id, name string) error {
	_, err := run(ctx, a.in, "admin.catalog_add", "AddService", func(ctx context.Context) (struct{}, error) {
		if err := a.admin(ctx, requesterID); err != nil {
			return struct{}{}, err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return struct{}{}, fmt.Errorf("%w: service name is required", ErrInvalidInput)
		}
		return struct{}{}, a.catalog.Add(ctx, strings.TrimSpace(id), name)
	})
	return err
}

func (a *Admin) RemoveService(ctx context.Context, requesterID, id string) error {
	_, err := run(ctx, a.in, "admin.catalog_remove", "RemoveService", func(ctx context.Context) (struct{}, error) {
		if err := a.admin(ctx, requesterID); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, a.catalog.Remove(ctx, id)
	})
	return err
}

func (a *Admin) Users(ctx context.Context, requesterID string) ([]string, error) {
	return run(ctx, a.in, "admin.users_list", "ListUsers", func(ctx context.Context) ([]string, error) {
		if err := a.admin(ctx, requesterID); err != nil {
			return nil, err
		}
		return a.auth.Users(), nil
	})
}

// GrantUser authorizes id until the process restarts.
func (a *Admin) GrantUser(ctx context.Context, requesterID, id string) error {
	_, err := run(ctx, a.in, "admin.users_grant", "GrantUser", func(ctx context.Context) (struct{}, error) {
		if err := a.admin(ctx, requesterID); err != nil {
			return struct{}{}, err
		}
		if strings.TrimSpace(id) == "" {
			return struct{}{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
		}
		a.auth.Grant(id)
		return struct{}{}, nil
	})
	return err
}

func (a *Admin) RevokeUser(ctx context.Context, requesterID, id string) error {
	_, err := run(ctx, a.in, "admin.users_revoke", "RevokeUser", func(ctx context.Context) (struct{}, error) {
		if err := a.admin(ctx, requesterID); err != nil {
			return struct{}{}, err
		}
		a.auth.Revoke(id)
		return struct{}{}, nil
	})
	return err
}

func (a *Admin) admin(ctx context.Context, requesterID string) error {
	if err := a.auth.AuthorizeAdmin(ctx, requesterID); err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	return nil
}
