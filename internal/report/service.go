package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var ErrExamNotFound = errors.New("exam not found")

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type TrackCounts struct {
	Published int `json:"published"`
	Draft     int `json:"draft"`
}

type Dashboard struct {
	Tracks         map[string]TrackCounts `json:"tracks"`
	Exams          int                    `json:"exams"`
	PublishedExams int                    `json:"published_exams"`
	ActiveStudents int                    `json:"active_students"`
	OpenDrafts     int                    `json:"open_drafts"`
	AwaitingScore  int                    `json:"awaiting_score"`
}

type BandCount struct {
	Band  float64 `json:"band"`
	Count int     `json:"count"`
}

type Stat struct {
	Average *float64 `json:"average"`
	Highest *float64 `json:"highest"`
	Lowest  *float64 `json:"lowest"`
}

type ExamSummary struct {
	ExamID       int64           `json:"exam_id"`
	Title        string          `json:"title"`
	Assigned     int             `json:"assigned"`
	Participants int             `json:"participants"`
	Scored       int             `json:"scored"`
	Overall      Stat            `json:"overall"`
	Modules      map[string]Stat `json:"modules"`
	Distribution []BandCount     `json:"distribution"`
}

type attemptBands struct {
	status    string
	listening sql.NullFloat64
	reading   sql.NullFloat64
	writing   sql.NullFloat64
	overall   sql.NullFloat64
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	out := &Dashboard{Tracks: map[string]TrackCounts{
		"listening": {},
		"reading":   {},
		"writing":   {},
	}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT module, is_published, COUNT(1) FROM tracks GROUP BY module, is_published
	`)
	if err != nil {
		return nil, fmt.Errorf("count tracks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			module    string
			published bool
			n         int
		)
		if err := rows.Scan(&module, &published, &n); err != nil {
			return nil, fmt.Errorf("scan track count: %w", err)
		}
		c := out.Tracks[module]
		if published {
			c.Published += n
		} else {
			c.Draft += n
		}
		out.Tracks[module] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate track counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(1) FROM exams),
			(SELECT COUNT(1) FROM exams WHERE is_published),
			(SELECT COUNT(1) FROM students WHERE is_active),
			(SELECT COUNT(1) FROM upload_drafts),
			(SELECT COUNT(1) FROM test_attempts WHERE status = 'submitted')
	`).Scan(&out.Exams, &out.PublishedExams, &out.ActiveStudents, &out.OpenDrafts, &out.AwaitingScore)
	if err != nil {
		return nil, fmt.Errorf("load dashboard counts: %w", err)
	}
	return out, nil
}

func (s *Service) ExamSummary(ctx context.Context, examID int64) (*ExamSummary, error) {
	var (
		title    string
		assigned int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT e.title, (SELECT COUNT(1) FROM exam_assignments a WHERE a.exam_id = e.id)
		FROM exams e WHERE e.id = $1
	`, examID).Scan(&title, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, listening_band::float8, reading_band::float8, writing_band::float8, overall_band::float8
		FROM test_attempts
		WHERE exam_id = $1 AND status <> 'in_progress'
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("list attempt bands: %w", err)
	}
	defer rows.Close()

	var items []attemptBands
	for rows.Next() {
		var it attemptBands
		if err := rows.Scan(&it.status, &it.listening, &it.reading, &it.writing, &it.overall); err != nil {
			return nil, fmt.Errorf("scan attempt bands: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt bands: %w", err)
	}

	sum := summarize(items)
	sum.ExamID = examID
	sum.Title = title
	sum.Assigned = assigned
	return sum, nil
}

// summarize only reads submitted or scored attempts. Stats over an empty set
// stay nil.
func summarize(items []attemptBands) *ExamSummary {
	out := &ExamSummary{
		Participants: len(items),
		Modules:      map[string]Stat{},
		Distribution: make([]BandCount, 0),
	}
	var overall, listening, reading, writing []float64
	dist := map[float64]int{}
	for _, it := range items {
		if it.status == "scored" {
			out.Scored++
		}
		if it.overall.Valid {
			overall = append(overall, it.overall.Float64)
			dist[it.overall.Float64]++
		}
		if it.listening.Valid {
			listening = append(listening, it.listening.Float64)
		}
		if it.reading.Valid {
			reading = append(reading, it.reading.Float64)
		}
		if it.writing.Valid {
			writing = append(writing, it.writing.Float64)
		}
	}
	out.Overall = stat(overall)
	out.Modules["listening"] = stat(listening)
	out.Modules["reading"] = stat(reading)
	out.Modules["writing"] = stat(writing)

	for band, n := range dist {
		out.Distribution = append(out.Distribution, BandCount{Band: band, Count: n})
	}
	sort.Slice(out.Distribution, func(i, j int) bool {
		return out.Distribution[i].Band < out.Distribution[j].Band
	})
	return out
}

func stat(values []float64) Stat {
	if len(values) == 0 {
		return Stat{}
	}
	lo, hi, total := values[0], values[0], 0.0
	for _, v := range values {
		total += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	avg := round2(total / float64(len(values)))
	return Stat{Average: &avg, Highest: &hi, Lowest: &lo}
}

func round2(v float64) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return f
}
