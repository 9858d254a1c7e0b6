// Package dashboard produces the admin reporting views: per-day totals
// with volatility against the preceding day, top-5 films per measure,
// and a trailing-12-month series. Everything is computed with GROUP BYs
// over the views and reactions tables.
package dashboard

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/reelworks/kino/internal/respond"
)

// Handler exposes the reporting endpoints.
type Handler struct {
	db  *sql.DB
	log *slog.Logger
}

// NewHandler wires the dashboard handlers.
func NewHandler(db *sql.DB, log *slog.Logger) *Handler {
	return &Handler{db: db, log: log}
}

// Register mounts the dashboard routes behind admin.
func (h *Handler) Register(mux *http.ServeMux, admin func(http.Handler) http.Handler) {
	mux.Handle("GET /dashboard/general-report", admin(http.HandlerFunc(h.generalReport)))
	mux.Handle("GET /dashboard/monthly-data", admin(http.HandlerFunc(h.monthlyData)))
}

// Measure is one reported quantity for a window.
type Measure struct {
	Total      int64      `json:"total"`
	Volatility float64    `json:"volatility"`
	TopFilms   []FilmRank `json:"topFilms"`
}

// FilmRank is one entry of a top-5 list.
type FilmRank struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Count int64  `json:"count"`
}

// generalReport handles GET /dashboard/general-report?day&month&year.
// Missing parameters default to today. The volatility of each measure
// compares the requested day against the day before it.
func (h *Handler) generalReport(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "day, month and year must form a valid date")
		return
	}
	from, to := day, day.AddDate(0, 0, 1)
	prevFrom := day.AddDate(0, 0, -1)

	report := map[string]any{"date": from.Format("2006-01-02")}
	measures := []struct {
		name  string
		query measureQuery
	}{
		{"views", viewsQuery},
		{"likes", reactionQuery("like")},
		{"dislikes", reactionQuery("dislike")},
	}
	for _, m := range measures {
		measure, err := h.measure(r.Context(), m.query, from, to, prevFrom)
		if err != nil {
			h.log.Error("report measure failed", "measure", m.name, "err", err)
			respond.Internal(w)
			return
		}
		report[m.name] = measure
	}
	// Chat persistence is an external collaborator; comments are not
	// recorded here.
	report["comments"] = Measure{TopFilms: []FilmRank{}}

	respond.JSON(w, http.StatusOK, report)
}

type measureQuery struct {
	total string
	top   string
	args  []any
}

var viewsQuery = measureQuery{
	total: `SELECT count(*) FROM views WHERE occurred_at >= $1 AND occurred_at < $2`,
	top: `SELECT f.slug, f.title, count(*) AS n
		FROM views v JOIN films f ON f.id = v.film_id
		WHERE v.occurred_at >= $1 AND v.occurred_at < $2
		GROUP BY f.slug, f.title ORDER BY n DESC LIMIT 5`,
}

func reactionQuery(reaction string) measureQuery {
	return measureQuery{
		total: `SELECT count(*) FROM reactions
			WHERE created_at >= $1 AND created_at < $2 AND reaction = $3`,
		top: `SELECT f.slug, f.title, count(*) AS n
			FROM reactions rc JOIN films f ON f.id = rc.film_id
			WHERE rc.created_at >= $1 AND rc.created_at < $2 AND rc.reaction = $3
			GROUP BY f.slug, f.title ORDER BY n DESC LIMIT 5`,
		args: []any{reaction},
	}
}

func (h *Handler) measure(ctx context.Context, q measureQuery, from, to, prevFrom time.Time) (Measure, error) {
	var m Measure

	current, err := h.count(ctx, q.total, from, to, q.args...)
	if err != nil {
		return Measure{}, err
	}
	previous, err := h.count(ctx, q.total, prevFrom, from, q.args...)
	if err != nil {
		return Measure{}, err
	}
	m.Total = current
	m.Volatility = volatility(current, previous)

	args := append([]any{from, to}, q.args...)
	rows, err := h.db.QueryContext(ctx, q.top, args...)
	if err != nil {
		return Measure{}, err
	}
	defer rows.Close()

	m.TopFilms = []FilmRank{}
	for rows.Next() {
		var fr FilmRank
		if err := rows.Scan(&fr.Slug, &fr.Title, &fr.Count); err != nil {
			return Measure{}, err
		}
		m.TopFilms = append(m.TopFilms, fr)
	}
	return m, rows.Err()
}

func (h *Handler) count(ctx context.Context, query string, from, to time.Time, extra ...any) (int64, error) {
	var n int64
	args := append([]any{from, to}, extra...)
	err := h.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// volatility is the percentage change against the previous window. A
// previous of zero maps to 0 or 100 so the report never divides by zero.
func volatility(current, previous int64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return float64(current-previous) / float64(previous) * 100
}

// MonthCount is one month of the trailing series.
type MonthCount struct {
	Month    string `json:"month"`
	Views    int64  `json:"views"`
	Likes    int64  `json:"likes"`
	Dislikes int64  `json:"dislikes"`
}

// monthlyData handles GET /dashboard/monthly-data: per-month counts for
// the trailing 12 months, oldest first.
func (h *Handler) monthlyData(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)

	months := make([]MonthCount, 12)
	index := map[string]int{}
	for i := range months {
		key := start.AddDate(0, i, 0).Format("2006-01")
		months[i] = MonthCount{Month: key}
		index[key] = i
	}

	if err := h.fillMonthly(r.Context(), `
		SELECT to_char(date_trunc('month', occurred_at), 'YYYY-MM'), count(*)
		FROM views WHERE occurred_at >= $1
		GROUP BY 1`, start, months, index,
		func(m *MonthCount, n int64) { m.Views = n }); err != nil {
		h.log.Error("monthly views failed", "err", err)
		respond.Internal(w)
		return
	}

	for _, reaction := range []string{"like", "dislike"} {
		assign := func(m *MonthCount, n int64) { m.Likes = n }
		if reaction == "dislike" {
			assign = func(m *MonthCount, n int64) { m.Dislikes = n }
		}
		if err := h.fillMonthly(r.Context(), `
			SELECT to_char(date_trunc('month', created_at), 'YYYY-MM'), count(*)
			FROM reactions WHERE created_at >= $1 AND reaction = $2
			GROUP BY 1`, start, months, index, assign, reaction); err != nil {
			h.log.Error("monthly reactions failed", "reaction", reaction, "err", err)
			respond.Internal(w)
			return
		}
	}

	respond.JSON(w, http.StatusOK, map[string]any{"months": months})
}

func (h *Handler) fillMonthly(ctx context.Context, query string, start time.Time,
	months []MonthCount, index map[string]int, assign func(*MonthCount, int64), extra ...any) error {

	rows, err := h.db.QueryContext(ctx, query, append([]any{start}, extra...)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		if i, ok := index[key]; ok {
			assign(&months[i], n)
		}
	}
	return rows.Err()
}

func parseDay(r *http.Request) (time.Time, error) {
	q := r.URL.Query()
	now := time.Now().UTC()
	day, month, year := now.Day(), int(now.Month()), now.Year()

	var err error
	for _, p := range []struct {
		name  string
		value *int
	}{{"day", &day}, {"month", &month}, {"year", &year}} {
		if raw := q.Get(p.name); raw != "" {
			if *p.value, err = strconv.Atoi(raw); err != nil {
				return time.Time{}, err
			}
		}
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return time.Time{}, strconv.ErrRange
	}
	return t, nil
}
