// Package catalog holds the films and episodes that make up the media
// library, their SQL store and their HTTP handlers. All write endpoints
// ingest multipart bodies through the formdata engine and push file
// parts straight into the blob store.
package catalog

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound marks lookups for films or episodes that do not exist.
var ErrNotFound = errors.New("catalog: not found")

// Genre is the embedded form stored on each film; the genres table
// itself is owned by the genres package.
type Genre struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Film is a titled collection of episodes. Blob handles point into the
// film's own root folder in the blob store.
type Film struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	Genres       []Genre   `json:"genres"`
	PosterURL    string    `json:"posterUrl"`
	PosterHandle string    `json:"-"`
	RootFolder   string    `json:"-"`
	Likes        int       `json:"likes"`
	Dislikes     int       `json:"dislikes"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Episode belongs to a film; Number is unique within it.
type Episode struct {
	ID              uuid.UUID `json:"id"`
	FilmID          uuid.UUID `json:"filmId"`
	Number          int       `json:"episodeNumber"`
	Title           string    `json:"title"`
	VideoHandle     string    `json:"videoHandle"`
	VideoMIME       string    `json:"videoMime"`
	ThumbnailURL    string    `json:"thumbnailUrl,omitempty"`
	ThumbnailHandle string    `json:"-"`
	Likes           int       `json:"likes"`
	Dislikes        int       `json:"dislikes"`
	CreatedAt       time.Time `json:"createdAt"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug from a film title.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
