// Package access answers whether a requester may use the broker.
package access

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnauthorized = errors.New("access: requester not authorized")
	ErrForbidden    = errors.New("access: admin rights required")
)

// Authorizer holds the authorized and admin id sets. Admins are always authorized.
type Authorizer struct {
	mu         sync.RWMutex
	authorized map[string]struct{}
	admins     map[string]struct{}
}

func New(authorized, admins []string) *Authorizer {
	a := &Authorizer{
		authorized: toSet(authorized),
		admins:     toSet(admins),
	}
	return a
}

// ParseIDs splits a comma separated id list, dropping blanks.
func ParseIDs(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *Authorizer) Authorize(ctx context.Context, requesterID string) error {
	_ = ctx
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.authorized[requesterID]; ok {
		return nil
	}
	if _, ok := a.admins[requesterID]; ok {
		return nil
	}
	return ErrUnauthorized
}

func (a *Authorizer) AuthorizeAdmin(ctx context.Context, requesterID string) error {
	_ = ctx
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.admins[requesterID]; ok {
		return nil
	}
	return ErrForbidden
}

func (a *Authorizer) Grant(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	a.mu.Lock()
	a.authorized[id] = struct{}{}
	a.mu.Unlock()
}

func (a *Authorizer) Revoke(id string) {
	a.mu.Lock()
	delete(a.authorized, id)
	a.mu.Unlock()
}

// Users lists the authorized (non-admin) ids in sorted order.
func (a *Authorizer) Users() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.authorized))
	for id := range a.authorized {
		out = append(out, id)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = struct{}{}
		}
	}
	return m
}
