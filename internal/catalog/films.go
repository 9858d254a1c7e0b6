package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reelworks/kino/internal/blob"
	"github.com/reelworks/kino/internal/formdata"
	"github.com/reelworks/kino/internal/respond"
)

// Handler exposes the catalog HTTP API.
type Handler struct {
	store *Store
	blobs blob.Store
	log   *slog.Logger
}

// NewHandler wires the catalog handlers.
func NewHandler(store *Store, blobs blob.Store, log *slog.Logger) *Handler {
	return &Handler{store: store, blobs: blobs, log: log}
}

// Middleware is the signature shared by the auth and ratelimit wrappers
// the routes compose with.
type Middleware = func(http.Handler) http.Handler

// Register mounts the catalog routes. Write routes go behind admin and
// the upload rate limit.
func (h *Handler) Register(mux *http.ServeMux, admin, uploadLimit Middleware) {
	guard := func(next http.Handler) http.Handler { return admin(uploadLimit(next)) }

	mux.HandleFunc("GET /films", h.listFilms)
	mux.Handle("POST /films", guard(h.ingestFilm()(http.HandlerFunc(h.createFilm))))
	mux.Handle("GET /films/{slug}", h.withFilm(http.HandlerFunc(h.getFilm)))
	mux.Handle("PATCH /films/{slug}", guard(h.withFilm(h.ingestFilmPatch()(http.HandlerFunc(h.patchFilm)))))
	mux.Handle("DELETE /films/{slug}", admin(h.withFilm(http.HandlerFunc(h.deleteFilm))))
	mux.Handle("POST /films/{slug}/check-episode-number", admin(h.withFilm(http.HandlerFunc(h.checkEpisodeNumber))))
	mux.Handle("POST /films/{slug}/views", h.withFilm(http.HandlerFunc(h.recordView)))

	mux.Handle("POST /films/{slug}", guard(h.withFilm(h.ingestEpisode()(http.HandlerFunc(h.createEpisode)))))
	mux.Handle("GET /films/{slug}/{episodeNumber}", h.withFilm(http.HandlerFunc(h.getEpisode)))
	mux.Handle("PATCH /films/{slug}/{episodeNumber}", guard(h.withFilm(h.ingestEpisodePatch()(http.HandlerFunc(h.patchEpisode)))))
	mux.Handle("DELETE /films/{slug}/{episodeNumber}", admin(h.withFilm(http.HandlerFunc(h.deleteEpisode))))
}

type filmKey struct{}

// withFilm resolves {slug} before the body is touched, so unknown films
// 404 instead of burning an upload.
func (h *Handler) withFilm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		film, err := h.store.FilmBySlug(r.Context(), r.PathValue("slug"))
		if errors.Is(err, ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "Film not found")
			return
		}
		if err != nil {
			h.log.Error("film lookup failed", "slug", r.PathValue("slug"), "err", err)
			respond.Internal(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), filmKey{}, film)))
	})
}

func filmFromContext(ctx context.Context) Film {
	f, _ := ctx.Value(filmKey{}).(Film)
	return f
}

func (h *Handler) listFilms(w http.ResponseWriter, r *http.Request) {
	films, err := h.store.ListFilms(r.Context())
	if err != nil {
		h.log.Error("film list failed", "err", err)
		respond.Internal(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"films": films})
}

func (h *Handler) getFilm(w http.ResponseWriter, r *http.Request) {
	film := filmFromContext(r.Context())
	episodes, err := h.store.EpisodesByFilm(r.Context(), film.ID)
	if err != nil {
		h.log.Error("episode list failed", "film", film.Slug, "err", err)
		respond.Internal(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"film": film, "episodes": episodes})
}

// ingestFilm is the ingestion pipeline for POST /films: the poster
// streams into a freshly created root folder while the metadata fields
// accumulate on the session.
func (h *Handler) ingestFilm() Middleware {
	return formdata.Process(formdata.Options{
		Fields:   []string{"title", "description", "genre"},
		Files:    []string{"poster"},
		Required: []string{"title", "poster"},
		OnField:  h.filmField,
		OnFile: func(r *http.Request, s *formdata.Session, name string, content io.Reader, info formdata.FileInfo) error {
			folder, err := h.blobs.CreateFolder(r.Context(), uuid.NewString())
			if err != nil {
				return errors.New("Could not store the poster")
			}
			s.Set("rootFolder", folder)
			return h.storePoster(r, s, folder, content, info)
		},
	})
}

func (h *Handler) filmField(r *http.Request, s *formdata.Session, name, value string) error {
	switch name {
	case "title":
		if strings.TrimSpace(value) == "" {
			return errors.New("Title must not be empty")
		}
		s.Set("title", strings.TrimSpace(value))
	case "description":
		s.Set("description", value)
	case "genre":
		g, err := h.store.GenreByName(r.Context(), value)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("Genre %s does not exist", value)
		}
		if err != nil {
			h.log.Error("genre lookup failed", "genre", value, "err", err)
			return errors.New("Could not validate genre")
		}
		genres, _ := s.Get("genres")
		list, _ := genres.([]Genre)
		s.Set("genres", append(list, g))
	}
	return nil
}

// storePoster streams an image part into folder and makes it public.
func (h *Handler) storePoster(r *http.Request, s *formdata.Session, folder string, content io.Reader, info formdata.FileInfo) error {
	if !strings.HasPrefix(info.MIMEType, "image/") {
		return errors.New("Poster must be an image")
	}
	created, err := h.blobs.CreateFile(r.Context(), "poster-"+uuid.NewString(), info.MIMEType, content, folder)
	if err != nil {
		h.log.Error("poster upload failed", "err", err)
		return errors.New("Could not store the poster")
	}
	if err := h.blobs.SetPublicReadable(r.Context(), created.Handle); err != nil {
		h.log.Error("poster publish failed", "handle", created.Handle, "err", err)
		return errors.New("Could not store the poster")
	}
	s.SetFile("poster", formdata.StoredFile{
		Handle:     created.Handle,
		PublicLink: created.PublicLink,
		MIMEType:   info.MIMEType,
	})
	s.Set("posterUrl", created.PublicLink)
	return nil
}

func (h *Handler) createFilm(w http.ResponseWriter, r *http.Request) {
	s, _ := formdata.FromContext(r.Context())
	poster, _ := s.File("poster")
	genres, _ := s.Get("genres")
	list, _ := genres.([]Genre)
	if list == nil {
		list = []Genre{}
	}

	film := Film{
		ID:           uuid.New(),
		Title:        s.Str("title"),
		Slug:         Slugify(s.Str("title")),
		Description:  s.Str("description"),
		Genres:       list,
		PosterURL:    s.Str("posterUrl"),
		PosterHandle: poster.Handle,
		RootFolder:   s.Str("rootFolder"),
	}
	if film.Slug == "" {
		respond.Error(w, http.StatusBadRequest, "Title must contain letters or digits")
		return
	}

	if err := h.store.CreateFilm(r.Context(), film); err != nil {
		if isUniqueViolation(err) {
			respond.Error(w, http.StatusConflict, "A film with this title already exists")
			return
		}
		h.log.Error("film insert failed", "slug", film.Slug, "err", err)
		respond.Internal(w)
		return
	}

	h.log.Info("film created", "slug", film.Slug, "id", film.ID)
	respond.JSON(w, http.StatusCreated, map[string]any{"film": film})
}

// ingestFilmPatch accepts the same names as film creation but requires
// none of them; a replacement poster goes into the film's existing
// root folder.
func (h *Handler) ingestFilmPatch() Middleware {
	return formdata.Process(formdata.Options{
		Fields:  []string{"title", "description", "genre"},
		Files:   []string{"poster"},
		OnField: h.filmField,
		OnFile: func(r *http.Request, s *formdata.Session, name string, content io.Reader, info formdata.FileInfo) error {
			film := filmFromContext(r.Context())
			return h.storePoster(r, s, film.RootFolder, content, info)
		},
	})
}

func (h *Handler) patchFilm(w http.ResponseWriter, r *http.Request) {
	s, _ := formdata.FromContext(r.Context())
	if s.Len() == 0 {
		respond.Error(w, http.StatusBadRequest, "There is nothing to update")
		return
	}

	film := filmFromContext(r.Context())
	oldPoster := ""

	if title := s.Str("title"); title != "" {
		film.Title = title
		film.Slug = Slugify(title)
	}
	if v, ok := s.Get("description"); ok {
		film.Description, _ = v.(string)
	}
	if v, ok := s.Get("genres"); ok {
		film.Genres, _ = v.([]Genre)
	}
	if poster, ok := s.File("poster"); ok {
		oldPoster = film.PosterHandle
		film.PosterHandle = poster.Handle
		film.PosterURL = poster.PublicLink
	}

	if err := h.store.UpdateFilm(r.Context(), film); err != nil {
		if isUniqueViolation(err) {
			respond.Error(w, http.StatusConflict, "A film with this title already exists")
			return
		}
		h.log.Error("film update failed", "slug", film.Slug, "err", err)
		respond.Internal(w)
		return
	}

	if oldPoster != "" {
		if err := h.blobs.Delete(r.Context(), oldPoster); err != nil {
			h.log.Warn("stale poster delete failed", "handle", oldPoster, "err", err)
		}
	}

	respond.JSON(w, http.StatusOK, map[string]any{"film": film})
}

func (h *Handler) deleteFilm(w http.ResponseWriter, r *http.Request) {
	film := filmFromContext(r.Context())

	if err := h.store.DeleteFilm(r.Context(), film.ID); err != nil {
		h.log.Error("film delete failed", "slug", film.Slug, "err", err)
		respond.Internal(w)
		return
	}
	if film.RootFolder != "" {
		if err := h.blobs.Delete(r.Context(), film.RootFolder); err != nil {
			h.log.Warn("root folder delete failed", "handle", film.RootFolder, "err", err)
		}
	}

	h.log.Info("film deleted", "slug", film.Slug)
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Film deleted"})
}

func (h *Handler) checkEpisodeNumber(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EpisodeNumber int `json:"episodeNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EpisodeNumber < 1 {
		respond.Error(w, http.StatusBadRequest, "episodeNumber must be a positive integer")
		return
	}

	film := filmFromContext(r.Context())
	taken, err := h.store.EpisodeNumberTaken(r.Context(), film.ID, body.EpisodeNumber)
	if err != nil {
		h.log.Error("episode number probe failed", "film", film.Slug, "err", err)
		respond.Internal(w)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]bool{"available": !taken})
}

func (h *Handler) recordView(w http.ResponseWriter, r *http.Request) {
	film := filmFromContext(r.Context())
	if err := h.store.RecordView(r.Context(), film.ID); err != nil {
		h.log.Error("view insert failed", "film", film.Slug, "err", err)
		respond.Internal(w)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]string{"message": "View recorded"})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
