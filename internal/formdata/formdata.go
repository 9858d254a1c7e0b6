// Package formdata is the multipart ingestion engine behind every write
// endpoint that accepts form fields and file uploads in one streaming
// request body.
//
// The engine drains the body incrementally and produces exactly one of
// two outcomes per request: a fully-populated, validated Session handed
// to the next handler, or a 400 response with the connection closed.
// Field and file parts may arrive in any order; a part only has to be
// *observed* to count toward the required set, even if its callback is
// still draining bytes.
//
// All side effects (map writes, required-presence bookkeeping and the
// completion check) run on a per-session serial queue (one worker
// goroutine, FIFO). The producer that reads parts off the wire never
// mutates shared state directly, so no completion decision can race a
// callback that is still settling, and no two parts can race a write to
// the same name.
package formdata

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/reelworks/kino/internal/logger"
	"github.com/reelworks/kino/internal/metrics"
	"github.com/reelworks/kino/internal/respond"
)

// maxFieldBytes caps a single non-file field value. File parts are
// streamed by their callbacks and have no engine-imposed cap.
const maxFieldBytes = 1 << 20

// FileInfo carries the part metadata an OnFile callback decides with.
type FileInfo struct {
	Filename string
	MIMEType string
}

// Options configures one ingestion call site.
type Options struct {
	// Fields and Files are the accepted part names. Any part outside
	// them aborts the whole request.
	Fields []string
	Files  []string

	// Required names (field or file) that must be observed before
	// end-of-stream for the session to complete.
	Required []string

	// OnField validates and records a field value. Nil defaults to
	// s.Set(name, value). Returning an error aborts the session.
	OnField func(r *http.Request, s *Session, name, value string) error

	// OnFile consumes a file part's content stream, typically piping
	// it to the blob store, and records the result on the session.
	// Nil discards the content. Returning an error aborts the session.
	OnFile func(r *http.Request, s *Session, name string, content io.Reader, info FileInfo) error

	// Done overrides the default completion predicate (all required
	// names observed). It is still conjoined with end-of-stream.
	Done func(s *Session) bool
}

// Process returns middleware that runs the ingestion engine over the
// request body and, on success, invokes next with the Session in the
// request context.
func Process(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
				respond.Error(w, http.StatusBadRequest, "multipart/form-data required")
				return
			}

			s := newSession(opts)
			defer s.queue.close()

			go consume(s, multipart.NewReader(r.Body, params["boundary"]), r, opts)

			if err := <-s.terminal; err != nil {
				logger.FromContext(r.Context()).Warn("ingestion aborted",
					"path", r.URL.Path, "reason", err.Error())
				metrics.IngestSessions.WithLabelValues("aborted").Inc()
				w.Header().Set("Connection", "close")
				respond.Error(w, http.StatusBadRequest, err.Error())
				return
			}

			metrics.IngestSessions.WithLabelValues("completed").Inc()
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), s)))
		})
	}
}

// consume is the producer: it pulls parts off the wire and enqueues one
// task per event. Field tasks are fire-and-forget; file tasks are
// awaited because advancing the parser invalidates the part's stream.
func consume(s *Session, mr *multipart.Reader, r *http.Request, opts Options) {
	for {
		if s.aborted.Load() {
			return
		}

		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.queue.push(func() { handleEnd(s) })
			return
		}
		if err != nil {
			// Covers malformed bodies and clients that disconnect
			// mid-upload; both route through the one abort path.
			s.abort(errors.New("Malformed form data"))
			return
		}

		if part.FileName() == "" {
			handleFieldPart(s, part, r, opts)
		} else if !handleFilePart(s, part, r, opts) {
			return
		}
	}
}

func handleFieldPart(s *Session, part *multipart.Part, r *http.Request, opts Options) {
	name := part.FormName()
	value, err := readValue(part)
	if err != nil {
		s.abort(fmt.Errorf("Field %s is too large", name))
		return
	}
	s.queue.push(func() { handleField(s, r, opts, name, value) })
}

// handleFilePart enqueues the file event and waits for its handler to
// settle. Returns false when the session died while waiting.
func handleFilePart(s *Session, part *multipart.Part, r *http.Request, opts Options) bool {
	name := part.FormName()
	info := FileInfo{
		Filename: part.FileName(),
		MIMEType: part.Header.Get("Content-Type"),
	}

	done := make(chan struct{})
	ok := s.queue.push(func() {
		defer close(done)
		handleFile(s, r, opts, name, part, info)
	})
	if !ok {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.queue.stopped:
		// Aborted with the file task still pending; it was discarded.
		return false
	}
}

func handleField(s *Session, r *http.Request, opts Options, name, value string) {
	if s.aborted.Load() {
		return
	}
	if !contains(opts.Fields, name) {
		s.abort(fmt.Errorf("Unexpected field %s", name))
		return
	}
	s.markPresent(name)

	if opts.OnField != nil {
		if err := opts.OnField(r, s, name, value); err != nil {
			s.abort(err)
			return
		}
	} else {
		s.Set(name, value)
	}
	checkComplete(s)
}

func handleFile(s *Session, r *http.Request, opts Options, name string, content io.Reader, info FileInfo) {
	if s.aborted.Load() {
		return
	}
	if !contains(opts.Files, name) {
		s.abort(fmt.Errorf("Unexpected file %s", name))
		return
	}
	s.markPresent(name)

	if opts.OnFile != nil {
		if err := opts.OnFile(r, s, name, content, info); err != nil {
			// Drain whatever the callback left so the parser can reach
			// the next boundary before the producer observes the abort.
			_, _ = io.Copy(io.Discard, content)
			s.abort(err)
			return
		}
	}
	_, _ = io.Copy(io.Discard, content)
	checkComplete(s)
}

// handleEnd processes end-of-stream: the body only counts as exhausted
// when every required name was observed first.
func handleEnd(s *Session) {
	if s.aborted.Load() {
		return
	}
	s.exhausted = s.allPresent()
	if !s.exhausted {
		s.abort(errors.New("Missing required data"))
		return
	}
	checkComplete(s)
	// A Done override that is still unsatisfied at end-of-stream can
	// never become true; completing is impossible, so fail now rather
	// than leave the request hanging.
	s.abort(errors.New("Missing required data"))
}

func checkComplete(s *Session) {
	if s.isParsed() {
		s.finish(nil)
	}
}

func readValue(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldBytes {
		return "", errors.New("field value too large")
	}
	return string(data), nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
