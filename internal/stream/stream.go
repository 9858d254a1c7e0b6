// Package stream serves stored videos to players in bounded chunks.
//
// The API always speaks partial content: every request must carry a
// Range header of the form "bytes=<start>-", and the server alone picks
// the chunk size. A player wanting the next chunk issues a new request
// with an advanced offset; nothing is remembered between requests.
package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/reelworks/kino/internal/blob"
	"github.com/reelworks/kino/internal/metrics"
	"github.com/reelworks/kino/internal/respond"
)

// ChunkSize is the fixed number of bytes served per range request.
// Clients may name an end offset; it is ignored.
const ChunkSize = 1_000_000

// Handler proxies byte ranges of remotely stored videos.
type Handler struct {
	store blob.Store
	log   *slog.Logger
}

// NewHandler returns a Handler reading from store.
func NewHandler(store blob.Store, log *slog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// ServeVideo handles GET /videos/{handle}.
//
// Responses: 206 with the requested chunk; 400 for a missing Range
// header or a non-video handle; 404 for an unknown handle; 416 for a
// start offset at or past end of file; 500 for any other store failure.
// Once the 206 header is written no further status can be sent, so a
// failing store stream just severs the connection.
func (h *Handler) ServeVideo(w http.ResponseWriter, r *http.Request) {
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		respond.Error(w, http.StatusBadRequest, "Requires Range header")
		return
	}

	handle := strings.TrimPrefix(r.URL.Path, "/videos/")
	if handle == "" {
		respond.Error(w, http.StatusNotFound, "Not found. Make sure to provide a valid video handle")
		return
	}

	meta, err := h.store.Metadata(r.Context(), handle)
	if errors.Is(err, blob.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "Not found. Make sure to provide a valid video handle")
		return
	}
	if err != nil {
		h.log.Error("video metadata fetch failed", "handle", handle, "err", err)
		respond.Internal(w)
		return
	}

	if !strings.HasPrefix(meta.MIMEType, "video/") {
		respond.Error(w, http.StatusBadRequest, "Bad request. Make sure to provide a valid video handle")
		return
	}

	start, ok := parseStart(rangeHeader)
	if !ok {
		respond.Error(w, http.StatusBadRequest, "Malformed Range header")
		return
	}
	if start >= meta.Size {
		respond.Error(w, http.StatusRequestedRangeNotSatisfiable, "Range start beyond end of file")
		return
	}

	end := start + ChunkSize - 1
	if end > meta.Size-1 {
		end = meta.Size - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, meta.Size))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", end-start+1))
	w.Header().Set("Content-Type", meta.MIMEType)
	w.WriteHeader(http.StatusPartialContent)

	rc, err := h.store.RangeStream(r.Context(), handle, start, end)
	if err != nil {
		// Headers are out; nothing to do but drop the connection.
		h.log.Error("video range open failed", "handle", handle, "start", start, "err", err)
		return
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	metrics.StreamChunks.Inc()
	metrics.StreamBytes.Add(float64(n))
	if err != nil {
		// Client went away or the store stream broke mid-chunk.
		h.log.Debug("video stream severed", "handle", handle, "written", n, "err", err)
	}
}

// parseStart extracts the first integer in a Range header. The end
// offset, if any, is deliberately ignored: open-ended "bytes=N-" is the
// expected form and the server decides the chunk size either way.
func parseStart(header string) (int64, bool) {
	var (
		n     int64
		found bool
	)
	for _, c := range header {
		if c >= '0' && c <= '9' {
			n = n*10 + int64(c-'0')
			found = true
			continue
		}
		if found {
			break
		}
	}
	return n, found
}
