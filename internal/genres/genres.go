// Package genres manages the genre vocabulary films are tagged with.
// Renames and deletions propagate into the jsonb genre arrays stored on
// films so the embedded copies never go stale.
package genres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reelworks/kino/internal/respond"
)

// Genre is one vocabulary entry.
type Genre struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

var errNotFound = errors.New("genres: not found")

// Handler exposes the genre CRUD API.
type Handler struct {
	db  *sql.DB
	log *slog.Logger
}

// NewHandler wires the genre handlers.
func NewHandler(db *sql.DB, log *slog.Logger) *Handler {
	return &Handler{db: db, log: log}
}

// Register mounts the genre routes; writes go behind admin.
func (h *Handler) Register(mux *http.ServeMux, admin func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /genres", h.list)
	mux.Handle("POST /genres", admin(http.HandlerFunc(h.create)))
	mux.HandleFunc("GET /genres/{name}", h.get)
	mux.Handle("PATCH /genres/{name}", admin(http.HandlerFunc(h.rename)))
	mux.Handle("DELETE /genres/{name}", admin(http.HandlerFunc(h.delete)))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `SELECT id, name FROM genres ORDER BY name`)
	if err != nil {
		h.log.Error("genre list failed", "err", err)
		respond.Internal(w)
		return
	}
	defer rows.Close()

	genres := []Genre{}
	for rows.Next() {
		var g Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			h.log.Error("genre scan failed", "err", err)
			respond.Internal(w)
			return
		}
		genres = append(genres, g)
	}
	respond.JSON(w, http.StatusOK, map[string]any{"genres": genres})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	g, err := h.byName(r.Context(), r.PathValue("name"))
	if errors.Is(err, errNotFound) {
		respond.Error(w, http.StatusNotFound, "Genre not found")
		return
	}
	if err != nil {
		h.log.Error("genre lookup failed", "err", err)
		respond.Internal(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"genre": g})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		respond.Error(w, http.StatusBadRequest, "Genre name must not be empty")
		return
	}

	g := Genre{ID: uuid.New(), Name: strings.TrimSpace(body.Name)}
	_, err := h.db.ExecContext(r.Context(),
		`INSERT INTO genres (id, name) VALUES ($1, $2)`, g.ID, g.Name)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			respond.Error(w, http.StatusConflict, "Genre already exists")
			return
		}
		h.log.Error("genre insert failed", "name", g.Name, "err", err)
		respond.Internal(w)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"genre": g})
}

// rename updates the vocabulary entry and rewrites the matching element
// inside every film's embedded genre array.
func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		respond.Error(w, http.StatusBadRequest, "Genre name must not be empty")
		return
	}
	newName := strings.TrimSpace(body.Name)

	g, err := h.byName(r.Context(), r.PathValue("name"))
	if errors.Is(err, errNotFound) {
		respond.Error(w, http.StatusNotFound, "Genre not found")
		return
	}
	if err != nil {
		h.log.Error("genre lookup failed", "err", err)
		respond.Internal(w)
		return
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		h.log.Error("genre rename begin failed", "err", err)
		respond.Internal(w)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(r.Context(),
		`UPDATE genres SET name = $2 WHERE id = $1`, g.ID, newName); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			respond.Error(w, http.StatusConflict, "Genre already exists")
			return
		}
		h.log.Error("genre rename failed", "id", g.ID, "err", err)
		respond.Internal(w)
		return
	}

	if _, err := tx.ExecContext(r.Context(), `
		UPDATE films
		SET genres = (
			SELECT jsonb_agg(
				CASE WHEN elem->>'id' = $1::text
					THEN jsonb_set(elem, '{name}', to_jsonb($2::text))
					ELSE elem END)
			FROM jsonb_array_elements(genres) elem)
		WHERE genres @> jsonb_build_array(jsonb_build_object('id', $1::text, 'name', $3::text))`,
		g.ID.String(), newName, g.Name); err != nil {
		h.log.Error("genre propagation failed", "id", g.ID, "err", err)
		respond.Internal(w)
		return
	}

	if err := tx.Commit(); err != nil {
		h.log.Error("genre rename commit failed", "err", err)
		respond.Internal(w)
		return
	}

	g.Name = newName
	respond.JSON(w, http.StatusOK, map[string]any{"genre": g})
}

// delete removes the vocabulary entry and pulls it out of every film's
// embedded genre array.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	g, err := h.byName(r.Context(), r.PathValue("name"))
	if errors.Is(err, errNotFound) {
		respond.Error(w, http.StatusNotFound, "Genre not found")
		return
	}
	if err != nil {
		h.log.Error("genre lookup failed", "err", err)
		respond.Internal(w)
		return
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		h.log.Error("genre delete begin failed", "err", err)
		respond.Internal(w)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(r.Context(),
		`DELETE FROM genres WHERE id = $1`, g.ID); err != nil {
		h.log.Error("genre delete failed", "id", g.ID, "err", err)
		respond.Internal(w)
		return
	}

	if _, err := tx.ExecContext(r.Context(), `
		UPDATE films
		SET genres = (
			SELECT COALESCE(jsonb_agg(elem), '[]'::jsonb)
			FROM jsonb_array_elements(genres) elem
			WHERE elem->>'id' <> $1::text)
		WHERE genres @> jsonb_build_array(jsonb_build_object('id', $1::text, 'name', $2::text))`,
		g.ID.String(), g.Name); err != nil {
		h.log.Error("genre removal propagation failed", "id", g.ID, "err", err)
		respond.Internal(w)
		return
	}

	if err := tx.Commit(); err != nil {
		h.log.Error("genre delete commit failed", "err", err)
		respond.Internal(w)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]string{"message": "Genre deleted"})
}

func (h *Handler) byName(ctx context.Context, name string) (Genre, error) {
	var g Genre
	err := h.db.QueryRowContext(ctx,
		`SELECT id, name FROM genres WHERE name = $1`, name).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Genre{}, errNotFound
	}
	return g, err
}
