package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Store runs the catalog SQL. Genre arrays live as jsonb on the films
// row; everything else is plain columns.
type Store struct {
	db *sql.DB
}

// NewStore wraps db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const filmColumns = `id, title, slug, description, genres, poster_url, poster_handle,
	root_folder, likes, dislikes, created_at, updated_at`

func scanFilm(row interface{ Scan(...any) error }) (Film, error) {
	var (
		f      Film
		genres []byte
	)
	err := row.Scan(&f.ID, &f.Title, &f.Slug, &f.Description, &genres,
		&f.PosterURL, &f.PosterHandle, &f.RootFolder,
		&f.Likes, &f.Dislikes, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Film{}, ErrNotFound
	}
	if err != nil {
		return Film{}, err
	}
	if len(genres) > 0 {
		if err := json.Unmarshal(genres, &f.Genres); err != nil {
			return Film{}, fmt.Errorf("catalog: decode genres for %s: %w", f.Slug, err)
		}
	}
	return f, nil
}

// ListFilms returns all films, newest first.
func (s *Store) ListFilms(ctx context.Context) ([]Film, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+filmColumns+` FROM films ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	films := []Film{}
	for rows.Next() {
		f, err := scanFilm(rows)
		if err != nil {
			return nil, err
		}
		films = append(films, f)
	}
	return films, rows.Err()
}

// FilmBySlug fetches one film; ErrNotFound for unknown slugs.
func (s *Store) FilmBySlug(ctx context.Context, slug string) (Film, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+filmColumns+` FROM films WHERE slug = $1`, slug)
	return scanFilm(row)
}

// CreateFilm inserts f. Slug collisions surface as pq unique violations.
func (s *Store) CreateFilm(ctx context.Context, f Film) error {
	genres, err := json.Marshal(f.Genres)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO films (id, title, slug, description, genres, poster_url,
			poster_handle, root_folder, likes, dislikes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, now(), now())`,
		f.ID, f.Title, f.Slug, f.Description, genres,
		f.PosterURL, f.PosterHandle, f.RootFolder)
	return err
}

// UpdateFilm rewrites the mutable columns of f, keyed by id.
func (s *Store) UpdateFilm(ctx context.Context, f Film) error {
	genres, err := json.Marshal(f.Genres)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE films
		SET title = $2, slug = $3, description = $4, genres = $5,
			poster_url = $6, poster_handle = $7, updated_at = now()
		WHERE id = $1`,
		f.ID, f.Title, f.Slug, f.Description, genres, f.PosterURL, f.PosterHandle)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFilm removes the film and, via FK cascade, its episodes,
// reactions and views.
func (s *Store) DeleteFilm(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM films WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const episodeColumns = `id, film_id, number, title, video_handle, video_mime,
	thumbnail_url, thumbnail_handle, likes, dislikes, created_at`

func scanEpisode(row interface{ Scan(...any) error }) (Episode, error) {
	var e Episode
	err := row.Scan(&e.ID, &e.FilmID, &e.Number, &e.Title,
		&e.VideoHandle, &e.VideoMIME, &e.ThumbnailURL, &e.ThumbnailHandle,
		&e.Likes, &e.Dislikes, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, ErrNotFound
	}
	return e, err
}

// EpisodesByFilm lists a film's episodes in number order.
func (s *Store) EpisodesByFilm(ctx context.Context, filmID uuid.UUID) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE film_id = $1 ORDER BY number`, filmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	episodes := []Episode{}
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

// EpisodeByNumber fetches one episode of a film.
func (s *Store) EpisodeByNumber(ctx context.Context, filmID uuid.UUID, number int) (Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE film_id = $1 AND number = $2`,
		filmID, number)
	return scanEpisode(row)
}

// EpisodeNumberTaken reports whether a film already has that number.
func (s *Store) EpisodeNumberTaken(ctx context.Context, filmID uuid.UUID, number int) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM episodes WHERE film_id = $1 AND number = $2)`,
		filmID, number).Scan(&taken)
	return taken, err
}

// CreateEpisode inserts e.
func (s *Store) CreateEpisode(ctx context.Context, e Episode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, film_id, number, title, video_handle, video_mime,
			thumbnail_url, thumbnail_handle, likes, dislikes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, now())`,
		e.ID, e.FilmID, e.Number, e.Title, e.VideoHandle, e.VideoMIME,
		e.ThumbnailURL, e.ThumbnailHandle)
	return err
}

// UpdateEpisode rewrites the mutable columns of e, keyed by id.
func (s *Store) UpdateEpisode(ctx context.Context, e Episode) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE episodes
		SET number = $2, title = $3, thumbnail_url = $4, thumbnail_handle = $5
		WHERE id = $1`,
		e.ID, e.Number, e.Title, e.ThumbnailURL, e.ThumbnailHandle)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEpisode removes one episode.
func (s *Store) DeleteEpisode(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordView appends one view event for the dashboard aggregations.
func (s *Store) RecordView(ctx context.Context, filmID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO views (id, film_id, occurred_at) VALUES ($1, $2, now())`,
		uuid.New(), filmID)
	return err
}

// GenreByName resolves a genre against the genres table; ErrNotFound
// for names that do not exist.
func (s *Store) GenreByName(ctx context.Context, name string) (Genre, error) {
	var g Genre
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM genres WHERE name = $1`, name).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Genre{}, ErrNotFound
	}
	return g, err
}
