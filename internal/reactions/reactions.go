// Package reactions records per-user like/dislike reactions on films
// and episodes and keeps the denormalized counters on those rows in
// step. One reaction per user per target.
package reactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reelworks/kino/internal/auth"
	"github.com/reelworks/kino/internal/respond"
)

// Handler exposes the reaction API under /user/reactions.
type Handler struct {
	db  *sql.DB
	log *slog.Logger
}

// NewHandler wires the reaction handlers.
func NewHandler(db *sql.DB, log *slog.Logger) *Handler {
	return &Handler{db: db, log: log}
}

// Register mounts the reaction routes; all of them require a signed-in
// user.
func (h *Handler) Register(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	for _, suffix := range []string{"/user/reactions/films/{slug}", "/user/reactions/films/{slug}/{episodeNumber}"} {
		mux.Handle("POST "+suffix, authed(http.HandlerFunc(h.create)))
		mux.Handle("GET "+suffix, authed(http.HandlerFunc(h.get)))
		mux.Handle("PATCH "+suffix, authed(http.HandlerFunc(h.update)))
		mux.Handle("DELETE "+suffix, authed(http.HandlerFunc(h.delete)))
	}
}

// target identifies what a reaction attaches to: a film, or one of its
// episodes.
type target struct {
	filmID    uuid.UUID
	episodeID uuid.NullUUID
}

// resolve maps the path to a target, writing 404 itself when the film
// or episode does not exist.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (target, bool) {
	var t target
	err := h.db.QueryRowContext(r.Context(),
		`SELECT id FROM films WHERE slug = $1`, r.PathValue("slug")).Scan(&t.filmID)
	if errors.Is(err, sql.ErrNoRows) {
		respond.Error(w, http.StatusNotFound, "Film not found")
		return target{}, false
	}
	if err != nil {
		h.log.Error("film lookup failed", "err", err)
		respond.Internal(w)
		return target{}, false
	}

	if raw := r.PathValue("episodeNumber"); raw != "" {
		number, err := strconv.Atoi(raw)
		if err != nil || number < 1 {
			respond.Error(w, http.StatusBadRequest, "episodeNumber must be a positive integer")
			return target{}, false
		}
		err = h.db.QueryRowContext(r.Context(),
			`SELECT id FROM episodes WHERE film_id = $1 AND number = $2`,
			t.filmID, number).Scan(&t.episodeID.UUID)
		if errors.Is(err, sql.ErrNoRows) {
			respond.Error(w, http.StatusNotFound, "Episode not found")
			return target{}, false
		}
		if err != nil {
			h.log.Error("episode lookup failed", "err", err)
			respond.Internal(w)
			return target{}, false
		}
		t.episodeID.Valid = true
	}
	return t, true
}

func parseReaction(r *http.Request) (string, error) {
	var body struct {
		Reaction string `json:"reaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", errors.New("reaction must be like or dislike")
	}
	if body.Reaction != "like" && body.Reaction != "dislike" {
		return "", errors.New("reaction must be like or dislike")
	}
	return body.Reaction, nil
}

// adjustCounter moves the denormalized counter on the reaction's
// target row. delta is +1 or -1.
func (h *Handler) adjustCounter(ctx context.Context, tx *sql.Tx, t target, reaction string, delta int) error {
	column := "likes"
	if reaction == "dislike" {
		column = "dislikes"
	}
	if t.episodeID.Valid {
		_, err := tx.ExecContext(ctx,
			`UPDATE episodes SET `+column+` = `+column+` + $2 WHERE id = $1`,
			t.episodeID.UUID, delta)
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE films SET `+column+` = `+column+` + $2 WHERE id = $1`,
		t.filmID, delta)
	return err
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r)
	if !ok {
		return
	}
	reaction, err := parseReaction(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		h.log.Error("reaction begin failed", "err", err)
		respond.Internal(w)
		return
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(r.Context(), `
		INSERT INTO reactions (id, user_id, film_id, episode_id, reaction, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.New(), userID, t.filmID, t.episodeID, reaction)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			respond.Error(w, http.StatusConflict, "Reaction already exists")
			return
		}
		h.log.Error("reaction insert failed", "err", err)
		respond.Internal(w)
		return
	}

	if err := h.adjustCounter(r.Context(), tx, t, reaction, 1); err != nil {
		h.log.Error("reaction counter update failed", "err", err)
		respond.Internal(w)
		return
	}
	if err := tx.Commit(); err != nil {
		h.log.Error("reaction commit failed", "err", err)
		respond.Internal(w)
		return
	}

	respond.JSON(w, http.StatusCreated, map[string]string{"reaction": reaction})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r)
	if !ok {
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	var reaction string
	err := h.db.QueryRowContext(r.Context(), `
		SELECT reaction FROM reactions
		WHERE user_id = $1 AND film_id = $2 AND episode_id IS NOT DISTINCT FROM $3`,
		userID, t.filmID, t.episodeID).Scan(&reaction)
	if errors.Is(err, sql.ErrNoRows) {
		respond.Error(w, http.StatusNotFound, "No reaction")
		return
	}
	if err != nil {
		h.log.Error("reaction lookup failed", "err", err)
		respond.Internal(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"reaction": reaction})
}

// update swaps a like for a dislike or vice versa, moving the counters
// in the same transaction.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r)
	if !ok {
		return
	}
	reaction, err := parseReaction(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		h.log.Error("reaction begin failed", "err", err)
		respond.Internal(w)
		return
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(r.Context(), `
		SELECT reaction FROM reactions
		WHERE user_id = $1 AND film_id = $2 AND episode_id IS NOT DISTINCT FROM $3
		FOR UPDATE`,
		userID, t.filmID, t.episodeID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		respond.Error(w, http.StatusNotFound, "No reaction")
		return
	}
	if err != nil {
		h.log.Error("reaction lookup failed", "err", err)
		respond.Internal(w)
		return
	}

	if previous != reaction {
		if _, err := tx.ExecContext(r.Context(), `
			UPDATE reactions SET reaction = $4
			WHERE user_id = $1 AND film_id = $2 AND episode_id IS NOT DISTINCT FROM $3`,
			userID, t.filmID, t.episodeID, reaction); err != nil {
			h.log.Error("reaction update failed", "err", err)
			respond.Internal(w)
			return
		}
		if err := h.adjustCounter(r.Context(), tx, t, previous, -1); err != nil {
			h.log.Error("reaction counter update failed", "err", err)
			respond.Internal(w)
			return
		}
		if err := h.adjustCounter(r.Context(), tx, t, reaction, 1); err != nil {
			h.log.Error("reaction counter update failed", "err", err)
			respond.Internal(w)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		h.log.Error("reaction commit failed", "err", err)
		respond.Internal(w)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]string{"reaction": reaction})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r)
	if !ok {
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		h.log.Error("reaction begin failed", "err", err)
		respond.Internal(w)
		return
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(r.Context(), `
		DELETE FROM reactions
		WHERE user_id = $1 AND film_id = $2 AND episode_id IS NOT DISTINCT FROM $3
		RETURNING reaction`,
		userID, t.filmID, t.episodeID).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		respond.Error(w, http.StatusNotFound, "No reaction")
		return
	}
	if err != nil {
		h.log.Error("reaction delete failed", "err", err)
		respond.Internal(w)
		return
	}

	if err := h.adjustCounter(r.Context(), tx, t, previous, -1); err != nil {
		h.log.Error("reaction counter update failed", "err", err)
		respond.Internal(w)
		return
	}
	if err := tx.Commit(); err != nil {
		h.log.Error("reaction commit failed", "err", err)
		respond.Internal(w)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]string{"message": "Reaction removed"})
}
