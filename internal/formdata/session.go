package formdata

import (
	"context"
	"sync"
	"sync/atomic"
)

// StoredFile describes a file that an OnFile callback has persisted to
// the blob store during ingestion.
type StoredFile struct {
	Handle     string
	PublicLink string
	MIMEType   string
}

// Session is the per-request state of one multipart ingestion. It is
// created when the request arrives and discarded after exactly one
// terminal action (hand-off to the next handler, or a 400 abort).
//
// All mutation happens on the session's serial queue worker, so OnField
// and OnFile callbacks may call Set and SetFile without synchronization.
// After a successful hand-off the downstream handler is the sole reader.
type Session struct {
	values map[string]any
	files  map[string]StoredFile

	// present flips to true the first time an event bearing a required
	// name is observed, at arrival rather than when its handler settles.
	present  map[string]bool
	required []string

	// exhausted is set by the end-of-stream event, and only when every
	// required name arrived first.
	exhausted bool

	doneFn func(*Session) bool

	queue    *serialQueue
	terminal chan error
	once     sync.Once
	aborted  atomic.Bool
}

func newSession(opts Options) *Session {
	s := &Session{
		values:   make(map[string]any),
		files:    make(map[string]StoredFile),
		present:  make(map[string]bool),
		required: opts.Required,
		doneFn:   opts.Done,
		queue:    newSerialQueue(),
		terminal: make(chan error, 1),
	}
	for _, name := range opts.Required {
		s.present[name] = false
	}
	return s
}

// Set records a field value. Last write wins per name.
func (s *Session) Set(name string, v any) { s.values[name] = v }

// Get returns a field value recorded with Set.
func (s *Session) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Str returns a field value as a string, or "" if absent or not a string.
func (s *Session) Str(name string) string {
	v, _ := s.values[name].(string)
	return v
}

// SetFile records the stored-file descriptor for a drained file part.
func (s *Session) SetFile(name string, f StoredFile) { s.files[name] = f }

// File returns the stored-file descriptor recorded under name.
func (s *Session) File(name string) (StoredFile, bool) {
	f, ok := s.files[name]
	return f, ok
}

// Len reports how many values and files the session collected.
func (s *Session) Len() int { return len(s.values) + len(s.files) }

// Values returns the collected field values. The map is shared, not
// copied; only the downstream handler should call this.
func (s *Session) Values() map[string]any { return s.values }

// Files returns the collected file descriptors. Same ownership rule as
// Values.
func (s *Session) Files() map[string]StoredFile { return s.files }

// markPresent satisfies the required-presence invariant at event arrival.
func (s *Session) markPresent(name string) {
	if _, tracked := s.present[name]; tracked {
		s.present[name] = true
	}
}

func (s *Session) allPresent() bool {
	for _, name := range s.required {
		if !s.present[name] {
			return false
		}
	}
	return true
}

// isParsed is the completion predicate: the Done override (or the
// default all-required-present check) AND end-of-stream.
func (s *Session) isParsed() bool {
	ok := s.allPresent()
	if s.doneFn != nil {
		ok = s.doneFn(s)
	}
	return ok && s.exhausted
}

// finish fires the terminal action. The success and abort continuations
// together fire exactly once per session; late calls are no-ops. An
// abort additionally stops the queue so pending work is discarded.
func (s *Session) finish(err error) {
	s.once.Do(func() {
		if err != nil {
			s.aborted.Store(true)
			s.queue.close()
		}
		s.terminal <- err
	})
}

func (s *Session) abort(err error) { s.finish(err) }

type sessionKey struct{}

// WithContext attaches a completed session for the downstream handler.
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session attached by the ingestion middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}
