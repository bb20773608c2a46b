package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/history"
)

// accountView is the admin representation of an account. Credentials are
// never serialized.
type accountView struct {
	*accounts.Account
	Auth        string `json:"auth"`
	RateLimited bool   `json:"rate_limited"`
}

type accountsAPI struct {
	store  accounts.Store
	logger *slog.Logger
}

func (a *accountsAPI) list(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to list accounts", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	now := time.Now()
	views := make([]accountView, 0, len(list))
	for _, acct := range list {
		auth := "api_key"
		if acct.IsOAuth() {
			auth = "oauth"
		}
		views = append(views, accountView{
			Account:     acct,
			Auth:        auth,
			RateLimited: acct.IsRateLimited(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

func (a *accountsAPI) setPaused(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		err := a.store.SetPaused(r.Context(), name, paused)
		switch {
		case errors.Is(err, accounts.ErrNotFound):
			writeAPIError(w, http.StatusNotFound, "account "+strconv.Quote(name)+" not found")
			return
		case err != nil:
			a.logger.ErrorContext(r.Context(), "failed to update account", "account", name, "error", err)
			writeAPIError(w, http.StatusInternalServerError, "failed to update account")
			return
		}

		a.logger.InfoContext(r.Context(), "account updated", "account", name, "paused", paused)
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "paused": paused})
	}
}

type requestsAPI struct {
	storage history.Storage
	logger  *slog.Logger
}

// list answers GET /api/requests. Supported parameters: account, agent,
// model, status, since and until (RFC 3339), limit, offset, bodies.
func (a *requestsAPI) list(w http.ResponseWriter, r *http.Request) {
	q, includeBodies, err := parseRequestsQuery(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.storage.Query(r.Context(), q)
	if errors.Is(err, history.ErrInvalidQuery) {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to query history", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "failed to query history")
		return
	}

	countQuery := *q
	countQuery.Limit, countQuery.Offset = 0, 0
	total, err := a.storage.Count(r.Context(), &countQuery)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to count history", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "failed to query history")
		return
	}

	if !includeBodies {
		for _, rec := range records {
			rec.RequestBody = ""
			rec.ResponseBody = ""
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": records,
		"total":    total,
	})
}

func parseRequestsQuery(r *http.Request) (*history.Query, bool, error) {
	v := r.URL.Query()
	q := &history.Query{
		Account: v.Get("account"),
		Agent:   v.Get("agent"),
		Model:   v.Get("model"),
		Status:  v.Get("status"),
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &q.StartTime}, {"until", &q.EndTime}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, false, errors.New(p.name + " must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, false, errors.New(p.name + " must be a non-negative integer")
		}
		*p.dst = n
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}

	bodies, _ := strconv.ParseBool(v.Get("bodies"))
	return q, bodies, nil
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Error: apiErrorDetail{
		Message:   message,
		RequestID: w.Header().Get("X-Request-ID"),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
