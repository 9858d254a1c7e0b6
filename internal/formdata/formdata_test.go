package formdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"
)

type bodyPart struct {
	name     string
	value    string
	file     bool
	filename string
	mimeType string
	content  []byte
}

func buildBody(t *testing.T, parts []bodyPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.file {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition",
				fmt.Sprintf(`form-data; name=%q; filename=%q`, p.name, p.filename))
			h.Set("Content-Type", p.mimeType)
			w, err := mw.CreatePart(h)
			if err != nil {
				t.Fatalf("CreatePart: %v", err)
			}
			if _, err := w.Write(p.content); err != nil {
				t.Fatalf("write part: %v", err)
			}
			continue
		}
		if err := mw.WriteField(p.name, p.value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func run(t *testing.T, opts Options, parts []bodyPart, next http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := buildBody(t, parts)
	req := httptest.NewRequest(http.MethodPost, "/films", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	Process(opts)(next).ServeHTTP(rr, req)
	return rr
}

func message(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body %q is not JSON: %v", rr.Body.String(), err)
	}
	return body.Message
}

func TestProcess_FileBeforeFields(t *testing.T) {
	var gotFile []byte
	opts := Options{
		Fields:   []string{"title", "description"},
		Files:    []string{"poster"},
		Required: []string{"title", "poster"},
		OnFile: func(r *http.Request, s *Session, name string, content io.Reader, info FileInfo) error {
			data, err := io.ReadAll(content)
			if err != nil {
				return err
			}
			gotFile = data
			s.SetFile(name, StoredFile{Handle: "h1", MIMEType: info.MIMEType})
			return nil
		},
	}
	parts := []bodyPart{
		{name: "poster", file: true, filename: "p.png", mimeType: "image/png", content: []byte("pngdata")},
		{name: "title", value: "Dune"},
		{name: "description", value: "Sand."},
	}

	called := false
	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		s, ok := FromContext(r.Context())
		if !ok {
			t.Fatal("no session in context")
		}
		if s.Str("title") != "Dune" || s.Str("description") != "Sand." {
			t.Errorf("fields = %q / %q", s.Str("title"), s.Str("description"))
		}
		if f, ok := s.File("poster"); !ok || f.Handle != "h1" {
			t.Errorf("poster file = %+v, %v", f, ok)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if !called {
		t.Fatalf("next handler not called; status %d body %s", rr.Code, rr.Body.String())
	}
	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d; want 201", rr.Code)
	}
	if string(gotFile) != "pngdata" {
		t.Errorf("file content = %q", gotFile)
	}
}

func TestProcess_MissingRequired(t *testing.T) {
	opts := Options{
		Fields:   []string{"title"},
		Files:    []string{"poster"},
		Required: []string{"title", "poster"},
	}
	parts := []bodyPart{{name: "title", value: "Dune"}}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
	if got := message(t, rr); got != "Missing required data" {
		t.Errorf("message = %q", got)
	}
	if rr.Header().Get("Connection") != "close" {
		t.Error("expected Connection: close on abort")
	}
}

func TestProcess_UnexpectedField(t *testing.T) {
	opts := Options{
		Fields:   []string{"title"},
		Required: []string{"title"},
	}
	parts := []bodyPart{
		{name: "title", value: "Dune"},
		{name: "evil", value: "x"},
	}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
	if got := message(t, rr); got != "Unexpected field evil" {
		t.Errorf("message = %q", got)
	}
}

func TestProcess_UnexpectedFile(t *testing.T) {
	opts := Options{
		Fields:   []string{"title"},
		Required: []string{"title"},
	}
	parts := []bodyPart{
		{name: "title", value: "Dune"},
		{name: "payload", file: true, filename: "x.bin", mimeType: "application/octet-stream", content: []byte("x")},
	}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
	if got := message(t, rr); got != "Unexpected file payload" {
		t.Errorf("message = %q", got)
	}
}

func TestProcess_FieldCallbackError(t *testing.T) {
	opts := Options{
		Fields:   []string{"genre"},
		Required: []string{"genre"},
		OnField: func(r *http.Request, s *Session, name, value string) error {
			return fmt.Errorf("Genre %s does not exist", value)
		},
	}
	parts := []bodyPart{{name: "genre", value: "Polka"}}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
	if got := message(t, rr); got != "Genre Polka does not exist" {
		t.Errorf("message = %q", got)
	}
}

func TestProcess_FileCallbackError(t *testing.T) {
	opts := Options{
		Files:    []string{"video"},
		Required: []string{"video"},
		OnFile: func(r *http.Request, s *Session, name string, content io.Reader, info FileInfo) error {
			return fmt.Errorf("The video file must be a video")
		},
	}
	parts := []bodyPart{
		{name: "video", file: true, filename: "v.txt", mimeType: "text/plain", content: []byte("nope")},
	}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
	if got := message(t, rr); got != "The video file must be a video" {
		t.Errorf("message = %q", got)
	}
}

// A request can only ever see one terminal action: either the 400 or
// the downstream handler, never both, even when an abort arrives after
// every required part was already observed.
func TestProcess_AtMostOnceTerminal(t *testing.T) {
	opts := Options{
		Fields:   []string{"title"},
		Required: []string{"title"},
	}
	parts := []bodyPart{
		{name: "title", value: "Dune"},
		{name: "late-surprise", value: "x"},
	}

	nextCalls := 0
	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalls++
	}))

	if nextCalls != 0 {
		t.Errorf("next handler ran %d times after abort", nextCalls)
	}
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rr.Code)
	}
}

func TestProcess_DuplicateFieldLastWriteWins(t *testing.T) {
	opts := Options{
		Fields:   []string{"title"},
		Required: []string{"title"},
	}
	parts := []bodyPart{
		{name: "title", value: "first"},
		{name: "title", value: "second"},
	}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := FromContext(r.Context())
		if s.Str("title") != "second" {
			t.Errorf("title = %q; want last write", s.Str("title"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
}

func TestProcess_DoneOverrideSatisfied(t *testing.T) {
	opts := Options{
		Files:    []string{"video"},
		Required: []string{"video"},
		OnFile: func(r *http.Request, s *Session, name string, content io.Reader, info FileInfo) error {
			io.Copy(io.Discard, content)
			s.SetFile(name, StoredFile{Handle: "vh", MIMEType: info.MIMEType})
			return nil
		},
		Done: func(s *Session) bool {
			f, ok := s.File("video")
			return ok && f.Handle != "" && f.MIMEType != ""
		},
	}
	parts := []bodyPart{
		{name: "video", file: true, filename: "e1.mp4", mimeType: "video/mp4", content: []byte("vid")},
	}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
}

// A Done override that never becomes true must produce a 400 at
// end-of-stream, not a hung request.
func TestProcess_DoneOverrideNeverTrue(t *testing.T) {
	opts := Options{
		Fields:   []string{"title"},
		Required: []string{"title"},
		Done:     func(s *Session) bool { return false },
	}
	parts := []bodyPart{{name: "title", value: "Dune"}}

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("next handler must not run")
		}))
	}()

	select {
	case rr := <-done:
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want 400", rr.Code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request hung with an unsatisfiable Done override")
	}
}

func TestProcess_RejectsNonMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/films", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	Process(Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
}

func TestProcess_MalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/films", strings.NewReader("this is not multipart"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	rr := httptest.NewRecorder()

	Process(Options{Fields: []string{"title"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rr.Code)
	}
	if got := message(t, rr); got != "Malformed form data" {
		t.Errorf("message = %q", got)
	}
}

// Completion requires end-of-stream even when every required name has
// already been observed: a handler running before EOF would see a
// half-read body.
func TestProcess_TrailingPartsStillProcessed(t *testing.T) {
	opts := Options{
		Fields:   []string{"title", "description"},
		Required: []string{"title"},
	}
	parts := []bodyPart{
		{name: "title", value: "Dune"},
		{name: "description", value: "arrives after required set is satisfied"},
	}

	rr := run(t, opts, parts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := FromContext(r.Context())
		if s.Str("description") == "" {
			t.Error("completion fired before the trailing part was processed")
		}
		w.WriteHeader(http.StatusOK)
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rr.Code, rr.Body.String())
	}
}
