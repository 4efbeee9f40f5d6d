package httppresentation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.deps.Account.Balance(r.Context(), requesterOf(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.deps.Account.Profile(r.Context(), requesterOf(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	fields := profile.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	writeJSON(w, http.StatusOK, fields)
}

type serviceView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.deps.Account.Services(r.Context(), requesterOf(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]serviceView, 0, len(services))
	for _, s := range services {
		out = append(out, serviceView{ID: s.ID, Name: s.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

type activeOrderView struct {
	OrderID   string   `json:"order_id"`
	Number    string   `json:"number"`
	Operator  string   `json:"operator,omitempty"`
	Price     string   `json:"price"`
	Status    string   `json:"status"`
	ServiceID string   `json:"service_id"`
	CountryID int      `json:"country_id"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	SMS       []string `json:"sms"`
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	active, err := h.deps.Account.Active(r.Context(), requesterOf(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]activeOrderView, 0, len(active))
	for _, a := range active {
		v := activeOrderView{
			OrderID:   a.ID,
			Number:    a.Number,
			Operator:  a.Operator,
			Price:     a.Price.String(),
			Status:    string(a.Status),
			ServiceID: a.ServiceID,
			CountryID: a.CountryID,
			SMS:       make([]string, 0, len(a.SMS)),
		}
		if !a.ExpiresAt.IsZero() {
			v.ExpiresAt = h.localTime(a.ExpiresAt).Format(time.RFC3339)
		}
		for _, m := range a.SMS {
			v.SMS = append(v.SMS, m.Text)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type quoteView struct {
	ServiceID string   `json:"service_id"`
	Country   int      `json:"country"`
	Standard  string   `json:"standard"`
	Tiers     []string `json:"tiers"`
}

func (h *Handler) handlePrices(w http.ResponseWriter, r *http.Request) {
	q, err := h.deps.Account.Prices(r.Context(), requesterOf(r), chi.URLParam(r, "serviceID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v := quoteView{ServiceID: q.ServiceID, Country: q.Country, Standard: q.Standard.String(), Tiers: make([]string, 0, len(q.Tiers))}
	for _, t := range q.Tiers {
		v.Tiers = append(v.Tiers, t.String())
	}
	writeJSON(w, http.StatusOK, v)
}

type catalogEntryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Admin.Catalog(r.Context(), requesterOf(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]catalogEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, catalogEntryView{ID: e.ID, Name: e.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAddService(w http.ResponseWriter, r *http.Request) {
	var req catalogEntryView
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Admin.AddService(r.Context(), requesterOf(r), req.ID, req.Name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleRemoveService(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Admin.RemoveService(r.Context(), requesterOf(r), chi.URLParam(r, "serviceID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.deps.Admin.Users(r.Context(), requesterOf(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"users": users})
}

func (h *Handler) handleGrantUser(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Admin.GrantUser(r.Context(), requesterOf(r), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeUser(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Admin.RevokeUser(r.Context(), requesterOf(r), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
