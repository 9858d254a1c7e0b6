// Package push registers browser push subscriptions. Delivery itself
// happens in an external worker; this service only stores the
// subscription blobs keyed by user.
package push

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/reelworks/kino/internal/auth"
	"github.com/reelworks/kino/internal/respond"
)

// maxSubscriptionBytes caps the stored subscription JSON.
const maxSubscriptionBytes = 16 << 10

// Handler exposes subscription registration.
type Handler struct {
	db  *sql.DB
	log *slog.Logger
}

// NewHandler wires the push handlers.
func NewHandler(db *sql.DB, log *slog.Logger) *Handler {
	return &Handler{db: db, log: log}
}

// Register mounts the push routes behind authentication.
func (h *Handler) Register(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	mux.Handle("POST /notifications/subscribe", authed(http.HandlerFunc(h.subscribe)))
}

// subscribe stores the raw PushSubscription JSON. One row per endpoint;
// re-registering the same endpoint refreshes the payload.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSubscriptionBytes+1))
	if err != nil || len(raw) > maxSubscriptionBytes {
		respond.Error(w, http.StatusBadRequest, "Invalid subscription")
		return
	}

	var sub struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(raw, &sub); err != nil || sub.Endpoint == "" {
		respond.Error(w, http.StatusBadRequest, "Invalid subscription")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO push_subscriptions (id, user_id, endpoint, subscription, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (endpoint) DO UPDATE
		SET user_id = EXCLUDED.user_id, subscription = EXCLUDED.subscription`,
		uuid.New(), userID, sub.Endpoint, raw)
	if err != nil {
		h.log.Error("subscription insert failed", "err", err)
		respond.Internal(w)
		return
	}

	respond.JSON(w, http.StatusCreated, map[string]string{"message": "Subscribed"})
}
