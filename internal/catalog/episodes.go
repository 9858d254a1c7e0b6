package catalog

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/reelworks/kino/internal/formdata"
	"github.com/reelworks/kino/internal/respond"
)

// ingestEpisode is the pipeline for POST /films/{slug}: the video part
// streams straight into the film's root folder; completion additionally
// waits for the stored video handle and MIME type to be captured.
func (h *Handler) ingestEpisode() Middleware {
	return formdata.Process(formdata.Options{
		Fields:   []string{"title", "episodeNumber"},
		Files:    []string{"thumbnail", "video"},
		Required: []string{"video", "episodeNumber"},
		OnField:  h.episodeField,
		OnFile:   h.episodeFile,
		Done: func(s *formdata.Session) bool {
			video, ok := s.File("video")
			return ok && video.Handle != "" && video.MIMEType != ""
		},
	})
}

func (h *Handler) episodeField(r *http.Request, s *formdata.Session, name, value string) error {
	switch name {
	case "title":
		s.Set("title", strings.TrimSpace(value))
	case "episodeNumber":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return errors.New("episodeNumber must be a positive integer")
		}
		s.Set("episodeNumber", n)
	case "removeThumbnail":
		s.Set("removeThumbnail", value == "true")
	}
	return nil
}

func (h *Handler) episodeFile(r *http.Request, s *formdata.Session, name string, content io.Reader, info formdata.FileInfo) error {
	film := filmFromContext(r.Context())

	switch name {
	case "video":
		if !strings.HasPrefix(info.MIMEType, "video/") {
			return errors.New("The video file must be a video")
		}
		created, err := h.blobs.CreateFile(r.Context(), "episode-"+uuid.NewString(), info.MIMEType, content, film.RootFolder)
		if err != nil {
			h.log.Error("video upload failed", "film", film.Slug, "err", err)
			return errors.New("Could not store the video")
		}
		s.SetFile("video", formdata.StoredFile{
			Handle:     created.Handle,
			PublicLink: created.PublicLink,
			MIMEType:   info.MIMEType,
		})
	case "thumbnail":
		if !strings.HasPrefix(info.MIMEType, "image/") {
			return errors.New("Thumbnail must be an image")
		}
		created, err := h.blobs.CreateFile(r.Context(), "thumbnail-"+uuid.NewString(), info.MIMEType, content, film.RootFolder)
		if err != nil {
			h.log.Error("thumbnail upload failed", "film", film.Slug, "err", err)
			return errors.New("Could not store the thumbnail")
		}
		if err := h.blobs.SetPublicReadable(r.Context(), created.Handle); err != nil {
			h.log.Error("thumbnail publish failed", "handle", created.Handle, "err", err)
			return errors.New("Could not store the thumbnail")
		}
		s.SetFile("thumbnail", formdata.StoredFile{
			Handle:     created.Handle,
			PublicLink: created.PublicLink,
			MIMEType:   info.MIMEType,
		})
		s.Set("thumbnailUrl", created.PublicLink)
	}
	return nil
}

func (h *Handler) createEpisode(w http.ResponseWriter, r *http.Request) {
	s, _ := formdata.FromContext(r.Context())
	film := filmFromContext(r.Context())

	number, _ := s.Get("episodeNumber")
	video, _ := s.File("video")
	thumbnail, _ := s.File("thumbnail")

	episode := Episode{
		ID:              uuid.New(),
		FilmID:          film.ID,
		Number:          number.(int),
		Title:           s.Str("title"),
		VideoHandle:     video.Handle,
		VideoMIME:       video.MIMEType,
		ThumbnailURL:    s.Str("thumbnailUrl"),
		ThumbnailHandle: thumbnail.Handle,
	}

	if err := h.store.CreateEpisode(r.Context(), episode); err != nil {
		if isUniqueViolation(err) {
			respond.Error(w, http.StatusConflict,
				fmt.Sprintf("Episode %d already exists", episode.Number))
			return
		}
		h.log.Error("episode insert failed", "film", film.Slug, "err", err)
		respond.Internal(w)
		return
	}

	h.log.Info("episode created", "film", film.Slug, "number", episode.Number)
	respond.JSON(w, http.StatusCreated, map[string]any{"episode": episode})
}

// loadEpisode parses {episodeNumber} and fetches the episode for the
// already-resolved film, writing the error response itself on failure.
func (h *Handler) loadEpisode(w http.ResponseWriter, r *http.Request) (Episode, bool) {
	film := filmFromContext(r.Context())
	number, err := strconv.Atoi(r.PathValue("episodeNumber"))
	if err != nil || number < 1 {
		respond.Error(w, http.StatusBadRequest, "episodeNumber must be a positive integer")
		return Episode{}, false
	}
	episode, err := h.store.EpisodeByNumber(r.Context(), film.ID, number)
	if errors.Is(err, ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "Episode not found")
		return Episode{}, false
	}
	if err != nil {
		h.log.Error("episode lookup failed", "film", film.Slug, "number", number, "err", err)
		respond.Internal(w)
		return Episode{}, false
	}
	return episode, true
}

func (h *Handler) getEpisode(w http.ResponseWriter, r *http.Request) {
	episode, ok := h.loadEpisode(w, r)
	if !ok {
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"episode": episode})
}

// ingestEpisodePatch accepts a replacement thumbnail plus the mutable
// fields; nothing is required.
func (h *Handler) ingestEpisodePatch() Middleware {
	return formdata.Process(formdata.Options{
		Fields:  []string{"title", "episodeNumber", "removeThumbnail"},
		Files:   []string{"thumbnail"},
		OnField: h.episodeField,
		OnFile:  h.episodeFile,
	})
}

func (h *Handler) patchEpisode(w http.ResponseWriter, r *http.Request) {
	s, _ := formdata.FromContext(r.Context())
	if s.Len() == 0 {
		respond.Error(w, http.StatusBadRequest, "There is nothing to update")
		return
	}

	episode, ok := h.loadEpisode(w, r)
	if !ok {
		return
	}

	staleThumb := ""
	if v, ok := s.Get("title"); ok {
		episode.Title, _ = v.(string)
	}
	if v, ok := s.Get("episodeNumber"); ok {
		episode.Number = v.(int)
	}
	if remove, _ := s.Get("removeThumbnail"); remove == true {
		staleThumb = episode.ThumbnailHandle
		episode.ThumbnailHandle = ""
		episode.ThumbnailURL = ""
	}
	if thumbnail, ok := s.File("thumbnail"); ok {
		staleThumb = episode.ThumbnailHandle
		episode.ThumbnailHandle = thumbnail.Handle
		episode.ThumbnailURL = thumbnail.PublicLink
	}

	if err := h.store.UpdateEpisode(r.Context(), episode); err != nil {
		if isUniqueViolation(err) {
			respond.Error(w, http.StatusConflict,
				fmt.Sprintf("Episode %d already exists", episode.Number))
			return
		}
		h.log.Error("episode update failed", "id", episode.ID, "err", err)
		respond.Internal(w)
		return
	}

	if staleThumb != "" {
		if err := h.blobs.Delete(r.Context(), staleThumb); err != nil {
			h.log.Warn("stale thumbnail delete failed", "handle", staleThumb, "err", err)
		}
	}

	respond.JSON(w, http.StatusOK, map[string]any{"episode": episode})
}

func (h *Handler) deleteEpisode(w http.ResponseWriter, r *http.Request) {
	episode, ok := h.loadEpisode(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteEpisode(r.Context(), episode.ID); err != nil {
		h.log.Error("episode delete failed", "id", episode.ID, "err", err)
		respond.Internal(w)
		return
	}

	for _, handle := range []string{episode.VideoHandle, episode.ThumbnailHandle} {
		if handle == "" {
			continue
		}
		if err := h.blobs.Delete(r.Context(), handle); err != nil {
			h.log.Warn("episode blob delete failed", "handle", handle, "err", err)
		}
	}

	respond.JSON(w, http.StatusOK, map[string]string{"message": "Episode deleted"})
}
