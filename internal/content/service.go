package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/db"
	"ieltsadmin/internal/validate"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IncompleteError carries the publish checklist failures.
type IncompleteError struct {
	Problems []string
}

func (e *IncompleteError) Error() string {
	return ErrTrackIncomplete.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *IncompleteError) Unwrap() error { return ErrTrackIncomplete }

type Service struct {
	db       *sql.DB
	audit    *audit.Recorder
	mediaURL func(key string) string
}

func NewService(db *sql.DB, rec *audit.Recorder, mediaURL func(key string) string) *Service {
	if mediaURL == nil {
		mediaURL = func(key string) string { return key }
	}
	return &Service{db: db, audit: rec, mediaURL: mediaURL}
}

const trackColumns = `
	t.id, t.title, t.module, COALESCE(t.description, ''), COALESCE(t.audio_key, ''),
	t.audio_duration_secs, t.is_published, t.published_at, t.created_by, t.created_at, t.updated_at,
	(SELECT COUNT(1) FROM track_sections s WHERE s.track_id = t.id),
	(SELECT COUNT(1) FROM track_questions q WHERE q.track_id = t.id)`

const sectionColumns = `
	id, track_id, section_no, title, COALESCE(instructions, ''), COALESCE(passage_html, ''),
	COALESCE(image_url, ''), audio_start_secs, audio_end_secs, created_at, updated_at`

const questionColumns = `
	id, section_id, track_id, question_no, question_type, prompt, options, answer_key,
	COALESCE(explanation, ''), points::float8, min_words, created_at, updated_at`

func (s *Service) ListTracks(ctx context.Context, f TrackFilter) ([]Track, error) {
	f.Module = strings.ToLower(strings.TrimSpace(f.Module))
	if f.Module != "" && !IsModule(f.Module) {
		return nil, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, f.Module)
	}
	var published any
	if f.Published != nil {
		published = *f.Published
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+trackColumns+`
		FROM tracks t
		WHERE ($1 = '' OR t.module = $1)
		  AND ($2::boolean IS NULL OR t.is_published = $2::boolean)
		  AND ($3 = '' OR LOWER(t.title) LIKE $3)
		ORDER BY t.updated_at DESC, t.id DESC
	`, f.Module, published, db.ContainsPattern(f.Q))
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	out := make([]Track, 0)
	for rows.Next() {
		t, err := s.scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	return out, nil
}

func (s *Service) GetTrack(ctx context.Context, trackID int64) (*Track, error) {
	return s.loadTrack(ctx, s.db, trackID, false)
}

func (s *Service) CreateTrack(ctx context.Context, actorID int64, in TrackInput) (*Track, error) {
	in = normalizeTrackInput(in)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tracks (title, module, description, created_by, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, 0), now(), now())
		RETURNING id
	`, in.Title, in.Module, in.Description, actorID).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert track: %w", err)
	}

	s.audit.Record(ctx, actorID, "track_created", "track", id, map[string]any{"title": in.Title, "module": in.Module})
	return s.GetTrack(ctx, id)
}

func (s *Service) UpdateTrack(ctx context.Context, actorID, trackID int64, in TrackUpdateInput) (*Track, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET title = $2, description = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`, trackID, in.Title, in.Description)
	if err != nil {
		return nil, fmt.Errorf("update track: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrTrackNotFound
	}

	s.audit.Record(ctx, actorID, "track_updated", "track", trackID, map[string]any{"title": in.Title})
	return s.GetTrack(ctx, trackID)
}

func (s *Service) DeleteTrack(ctx context.Context, actorID, trackID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	track, err := s.loadTrack(ctx, tx, trackID, true)
	if err != nil {
		return err
	}
	inUse, err := s.trackInUse(ctx, tx, trackID, false)
	if err != nil {
		return err
	}
	if err := checkDeletable(track, inUse); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE id = $1`, trackID); err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrTrackInUse
		}
		return fmt.Errorf("delete track: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.audit.Record(ctx, actorID, "track_deleted", "track", trackID, nil)
	return nil
}

// checkDeletable allows deleting only unpublished tracks no exam points at.
func checkDeletable(t *Track, inUse bool) error {
	if t.IsPublished {
		return ErrTrackPublished
	}
	if inUse {
		return ErrTrackInUse
	}
	return nil
}

func (s *Service) GetTrackTree(ctx context.Context, trackID int64) (*TrackTree, error) {
	return s.loadTree(ctx, s.db, trackID, false)
}

func (s *Service) CreateSection(ctx context.Context, actorID, trackID int64, in SectionInput) (*Section, error) {
	var out *Section
	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, track *Track) error {
		norm, err := NormalizeSection(track.Module, in)
		if err != nil {
			return err
		}
		out, err = s.insertSection(ctx, tx, trackID, norm, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorID, "section_created", "track", trackID, map[string]any{"section_no": out.SectionNo})
	return out, nil
}

func (s *Service) UpdateSection(ctx context.Context, actorID, trackID, sectionID int64, in SectionInput) (*Section, error) {
	var out *Section
	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, track *Track) error {
		norm, err := NormalizeSection(track.Module, in)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE track_sections
			SET section_no = $3, title = $4, instructions = NULLIF($5, ''), passage_html = NULLIF($6, ''),
			    image_url = NULLIF($7, ''), updated_at = now()
			WHERE id = $1 AND track_id = $2
			RETURNING `+sectionColumns,
			sectionID, trackID, norm.SectionNo, norm.Title, norm.Instructions, norm.PassageHTML, norm.ImageURL)
		out, err = scanSection(row)
		if err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				return ErrSectionNotFound
			case db.IsUniqueViolation(err):
				return ErrDuplicateSection
			}
			return fmt.Errorf("update section: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorID, "section_updated", "track", trackID, map[string]any{"section_id": sectionID})
	return out, nil
}

func (s *Service) DeleteSection(ctx context.Context, actorID, trackID, sectionID int64) error {
	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, _ *Track) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM track_sections WHERE id = $1 AND track_id = $2`, sectionID, trackID)
		if err != nil {
			return fmt.Errorf("delete section: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSectionNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, actorID, "section_deleted", "track", trackID, map[string]any{"section_id": sectionID})
	return nil
}

func (s *Service) CreateQuestion(ctx context.Context, actorID, trackID, sectionID int64, in QuestionInput) (*Question, error) {
	var out *Question
	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, track *Track) error {
		var sectionNo int
		err := tx.QueryRowContext(ctx, `
			SELECT section_no FROM track_sections WHERE id = $1 AND track_id = $2
		`, sectionID, trackID).Scan(&sectionNo)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrSectionNotFound
			}
			return fmt.Errorf("load section: %w", err)
		}
		norm, err := NormalizeQuestion(track.Module, sectionNo, in)
		if err != nil {
			return err
		}
		out, err = insertQuestion(ctx, tx, trackID, sectionID, norm)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorID, "question_created", "track", trackID, map[string]any{"question_no": out.QuestionNo})
	return out, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, actorID, trackID, questionID int64, in QuestionInput) (*Question, error) {
	var out *Question
	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, track *Track) error {
		var sectionNo int
		err := tx.QueryRowContext(ctx, `
			SELECT s.section_no
			FROM track_questions q
			JOIN track_sections s ON s.id = q.section_id
			WHERE q.id = $1 AND q.track_id = $2
		`, questionID, trackID).Scan(&sectionNo)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrQuestionNotFound
			}
			return fmt.Errorf("load question: %w", err)
		}
		norm, err := NormalizeQuestion(track.Module, sectionNo, in)
		if err != nil {
			return err
		}
		opts, err := json.Marshal(norm.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE track_questions
			SET question_no = $3, question_type = $4, prompt = $5, options = $6::jsonb, answer_key = $7::jsonb,
			    explanation = NULLIF($8, ''), points = $9, min_words = $10, updated_at = now()
			WHERE id = $1 AND track_id = $2
			RETURNING `+questionColumns,
			questionID, trackID, norm.QuestionNo, norm.QuestionType, norm.Prompt, string(opts), string(norm.AnswerKey),
			norm.Explanation, norm.Points, nullableInt(norm.MinWords))
		out, err = scanQuestion(row)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateQuestion
			}
			return fmt.Errorf("update question: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorID, "question_updated", "track", trackID, map[string]any{"question_id": questionID})
	return out, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, actorID, trackID, questionID int64) error {
	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, _ *Track) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM track_questions WHERE id = $1 AND track_id = $2`, questionID, trackID)
		if err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrQuestionNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, actorID, "question_deleted", "track", trackID, map[string]any{"question_id": questionID})
	return nil
}

func (s *Service) AttachAudio(ctx context.Context, actorID, trackID int64, in AudioInput) (*Track, error) {
	in.AudioKey = strings.TrimSpace(in.AudioKey)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, track *Track) error {
		if track.Module != ModuleListening {
			return fmt.Errorf("%w: audio is only used by listening tracks", ErrInvalidInput)
		}
		var latestEnd sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT MAX(audio_end_secs) FROM track_sections WHERE track_id = $1
		`, trackID).Scan(&latestEnd); err != nil {
			return fmt.Errorf("load timings: %w", err)
		}
		if latestEnd.Valid && int(latestEnd.Int64) > in.DurationSecs {
			return validate.FieldErrors{"duration_secs": fmt.Sprintf("existing section timings run to %ds, longer than the new audio", latestEnd.Int64)}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE tracks SET audio_key = $2, audio_duration_secs = $3, updated_at = now() WHERE id = $1
		`, trackID, in.AudioKey, in.DurationSecs)
		if err != nil {
			return fmt.Errorf("update audio: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actorID, "track_audio_attached", "track", trackID, map[string]any{
		"audio_key":     in.AudioKey,
		"duration_secs": in.DurationSecs,
	})
	return s.GetTrack(ctx, trackID)
}

// SaveTimings stores the audio ranges of listening sections in one
// transaction.
func (s *Service) SaveTimings(ctx context.Context, actorID, trackID int64, timings []TimingInput) (*TrackTree, error) {
	if len(timings) == 0 {
		return nil, validate.FieldErrors{"timings": "timings is required"}
	}
	err := s.withEditableTrack(ctx, trackID, func(tx *sql.Tx, track *Track) error {
		sections, err := loadSections(ctx, tx, trackID)
		if err != nil {
			return err
		}
		if err := ValidateTimings(track.AudioDurationSecs, sections, timings); err != nil {
			return err
		}
		for _, t := range timings {
			if _, err := tx.ExecContext(ctx, `
				UPDATE track_sections SET audio_start_secs = $3, audio_end_secs = $4, updated_at = now()
				WHERE id = $1 AND track_id = $2
			`, t.SectionID, trackID, t.StartSecs, t.EndSecs); err != nil {
				return fmt.Errorf("update timing: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actorID, "track_timings_saved", "track", trackID, map[string]any{"sections": len(timings)})
	return s.GetTrackTree(ctx, trackID)
}

func (s *Service) PublishTrack(ctx context.Context, actorID, trackID int64) (*Track, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tree, err := s.loadTree(ctx, tx, trackID, true)
	if err != nil {
		return nil, err
	}
	if !tree.IsPublished {
		if problems := PublishProblems(tree); len(problems) > 0 {
			return nil, &IncompleteError{Problems: problems}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tracks SET is_published = TRUE, published_at = now(), updated_at = now() WHERE id = $1
		`, trackID); err != nil {
			return nil, fmt.Errorf("publish track: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.audit.Record(ctx, actorID, "track_published", "track", trackID, nil)
	return s.GetTrack(ctx, trackID)
}

func (s *Service) UnpublishTrack(ctx context.Context, actorID, trackID int64) (*Track, error) {
	if _, err := s.GetTrack(ctx, trackID); err != nil {
		return nil, err
	}
	inUse, err := s.trackInUse(ctx, s.db, trackID, true)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, fmt.Errorf("%w: a published exam still uses it", ErrTrackInUse)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET is_published = FALSE, published_at = NULL, updated_at = now() WHERE id = $1
	`, trackID); err != nil {
		return nil, fmt.Errorf("unpublish track: %w", err)
	}

	s.audit.Record(ctx, actorID, "track_unpublished", "track", trackID, nil)
	return s.GetTrack(ctx, trackID)
}

// CreateTrackTree inserts a complete track with its sections and questions in
// one transaction.
func (s *Service) CreateTrackTree(ctx context.Context, actorID int64, in TreeInput) (*TrackTree, error) {
	in, err := NormalizeTree(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var trackID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tracks (title, module, description, audio_key, audio_duration_secs, created_by, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, 0), NULLIF($6, 0), now(), now())
		RETURNING id
	`, in.Track.Title, in.Track.Module, in.Track.Description, in.AudioKey, in.AudioDurationSecs, actorID).Scan(&trackID)
	if err != nil {
		return nil, fmt.Errorf("insert track: %w", err)
	}

	for _, sec := range in.Sections {
		created, err := s.insertSection(ctx, tx, trackID, sec.SectionInput, sec.AudioStartSecs, sec.AudioEndSecs)
		if err != nil {
			return nil, err
		}
		for _, q := range sec.Questions {
			if _, err := insertQuestion(ctx, tx, trackID, created.ID, q); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.audit.Record(ctx, actorID, "track_created", "track", trackID, map[string]any{
		"title":    in.Track.Title,
		"module":   in.Track.Module,
		"sections": len(in.Sections),
		"source":   "wizard",
	})
	return s.GetTrackTree(ctx, trackID)
}

// NormalizeTree validates a whole track tree and returns it with every
// section and question normalized. Field errors are keyed by their path in
// the tree, e.g. "sections[1].questions[0].answer_key".
func NormalizeTree(in TreeInput) (TreeInput, error) {
	in.Track = normalizeTrackInput(in.Track)
	in.AudioKey = strings.TrimSpace(in.AudioKey)
	if err := validate.Struct(in.Track); err != nil {
		return in, err
	}
	module := in.Track.Module
	fe := validate.FieldErrors{}

	if module == ModuleListening && in.AudioKey != "" && in.AudioDurationSecs <= 0 {
		fe["audio_duration_secs"] = "audio_duration_secs must be positive"
	}
	if module != ModuleListening && in.AudioKey != "" {
		fe["audio_key"] = "audio is only used by listening tracks"
	}

	seenSections := map[int]bool{}
	seenQuestions := map[int]bool{}
	sections := make([]Section, 0, len(in.Sections))
	timings := make([]TimingInput, 0)
	for i := range in.Sections {
		prefix := fmt.Sprintf("sections[%d]", i)
		sec := in.Sections[i]
		norm, err := NormalizeSection(module, sec.SectionInput)
		if err != nil {
			mergeInto(fe, prefix, err)
			continue
		}
		sec.SectionInput = norm
		if seenSections[norm.SectionNo] {
			fe[prefix+".section_no"] = fmt.Sprintf("section %d appears more than once", norm.SectionNo)
		}
		seenSections[norm.SectionNo] = true

		for j := range sec.Questions {
			qPrefix := fmt.Sprintf("%s.questions[%d]", prefix, j)
			q, err := NormalizeQuestion(module, norm.SectionNo, sec.Questions[j])
			if err != nil {
				mergeInto(fe, qPrefix, err)
				continue
			}
			if seenQuestions[q.QuestionNo] {
				fe[qPrefix+".question_no"] = fmt.Sprintf("question %d appears more than once", q.QuestionNo)
			}
			seenQuestions[q.QuestionNo] = true
			sec.Questions[j] = q
		}

		fakeID := int64(i + 1)
		sections = append(sections, Section{ID: fakeID, SectionNo: norm.SectionNo})
		if sec.AudioStartSecs != nil || sec.AudioEndSecs != nil {
			if sec.AudioStartSecs == nil || sec.AudioEndSecs == nil {
				fe[prefix+".audio_end_secs"] = "start and end must be given together"
			} else {
				timings = append(timings, TimingInput{SectionID: fakeID, StartSecs: *sec.AudioStartSecs, EndSecs: *sec.AudioEndSecs})
			}
		}
		in.Sections[i] = sec
	}
	if len(fe) > 0 {
		return in, fe
	}

	if len(timings) > 0 {
		var duration *int
		if in.AudioDurationSecs > 0 {
			duration = &in.AudioDurationSecs
		}
		if err := ValidateTimings(duration, sections, timings); err != nil {
			if errors.Is(err, ErrNoAudio) {
				return in, validate.FieldErrors{"audio_key": "timings need an audio file"}
			}
			return in, err
		}
	}
	return in, nil
}

func mergeInto(dst validate.FieldErrors, prefix string, err error) {
	if fe, ok := validate.AsFieldErrors(err); ok {
		dst.Merge(fe.Prefixed(prefix))
		return
	}
	dst[prefix] = err.Error()
}

func normalizeTrackInput(in TrackInput) TrackInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Module = strings.ToLower(strings.TrimSpace(in.Module))
	in.Description = strings.TrimSpace(in.Description)
	return in
}

// withEditableTrack runs fn in a transaction holding a row lock on the track.
// Published tracks are read-only.
func (s *Service) withEditableTrack(ctx context.Context, trackID int64, fn func(tx *sql.Tx, track *Track) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	track, err := s.loadTrack(ctx, tx, trackID, true)
	if err != nil {
		return err
	}
	if track.IsPublished {
		return ErrTrackPublished
	}
	if err := fn(tx, track); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tracks SET updated_at = now() WHERE id = $1`, trackID); err != nil {
		return fmt.Errorf("touch track: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Service) trackInUse(ctx context.Context, q queryer, trackID int64, publishedOnly bool) (bool, error) {
	var inUse bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM exams
			WHERE (listening_track_id = $1 OR reading_track_id = $1 OR writing_track_id = $1)
			  AND ($2 = FALSE OR is_published = TRUE)
		)
	`, trackID, publishedOnly).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("check track usage: %w", err)
	}
	return inUse, nil
}

func (s *Service) loadTrack(ctx context.Context, q queryer, trackID int64, forUpdate bool) (*Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks t WHERE t.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF t`
	}
	t, err := s.scanTrack(q.QueryRowContext(ctx, query, trackID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrackNotFound
		}
		return nil, fmt.Errorf("load track: %w", err)
	}
	return t, nil
}

func (s *Service) loadTree(ctx context.Context, q queryer, trackID int64, forUpdate bool) (*TrackTree, error) {
	track, err := s.loadTrack(ctx, q, trackID, forUpdate)
	if err != nil {
		return nil, err
	}
	sections, err := loadSections(ctx, q, trackID)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+questionColumns+`
		FROM track_questions
		WHERE track_id = $1
		ORDER BY question_no ASC
	`, trackID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	bySection := make(map[int64][]Question)
	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		bySection[qq.SectionID] = append(bySection[qq.SectionID], *qq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	for i := range sections {
		sections[i].Questions = bySection[sections[i].ID]
		if sections[i].Questions == nil {
			sections[i].Questions = []Question{}
		}
	}
	return &TrackTree{Track: *track, Sections: sections}, nil
}

func loadSections(ctx context.Context, q queryer, trackID int64) ([]Section, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+sectionColumns+`
		FROM track_sections
		WHERE track_id = $1
		ORDER BY section_no ASC
	`, trackID)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	out := make([]Section, 0)
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, *sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return out, nil
}

func (s *Service) insertSection(ctx context.Context, q queryer, trackID int64, in SectionInput, start, end *int) (*Section, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO track_sections (
			track_id, section_no, title, instructions, passage_html, image_url,
			audio_start_secs, audio_end_secs, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, now(), now()
		)
		RETURNING `+sectionColumns,
		trackID, in.SectionNo, in.Title, in.Instructions, in.PassageHTML, in.ImageURL, nullableInt(start), nullableInt(end))
	sec, err := scanSection(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateSection
		}
		return nil, fmt.Errorf("insert section: %w", err)
	}
	return sec, nil
}

func insertQuestion(ctx context.Context, q queryer, trackID, sectionID int64, in QuestionInput) (*Question, error) {
	opts, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO track_questions (
			section_id, track_id, question_no, question_type, prompt, options, answer_key,
			explanation, points, min_words, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, NULLIF($8, ''), $9, $10, now(), now()
		)
		RETURNING `+questionColumns,
		sectionID, trackID, in.QuestionNo, in.QuestionType, in.Prompt, string(opts), string(in.AnswerKey),
		in.Explanation, in.Points, nullableInt(in.MinWords))
	out, err := scanQuestion(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateQuestion, in.QuestionNo)
		}
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Service) scanTrack(sc scanner) (*Track, error) {
	var t Track
	var duration sql.NullInt64
	var publishedAt sql.NullTime
	var createdBy sql.NullInt64
	if err := sc.Scan(
		&t.ID, &t.Title, &t.Module, &t.Description, &t.AudioKey,
		&duration, &t.IsPublished, &publishedAt, &createdBy, &t.CreatedAt, &t.UpdatedAt,
		&t.SectionCount, &t.QuestionCount,
	); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		t.AudioDurationSecs = &d
	}
	if publishedAt.Valid {
		t.PublishedAt = &publishedAt.Time
	}
	if createdBy.Valid {
		t.CreatedBy = &createdBy.Int64
	}
	if t.AudioKey != "" {
		t.AudioURL = s.mediaURL(t.AudioKey)
	}
	return &t, nil
}

func scanSection(sc scanner) (*Section, error) {
	var out Section
	var start, end sql.NullInt64
	if err := sc.Scan(
		&out.ID, &out.TrackID, &out.SectionNo, &out.Title, &out.Instructions, &out.PassageHTML,
		&out.ImageURL, &start, &end, &out.CreatedAt, &out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if start.Valid {
		v := int(start.Int64)
		out.AudioStartSecs = &v
	}
	if end.Valid {
		v := int(end.Int64)
		out.AudioEndSecs = &v
	}
	return &out, nil
}

func scanQuestion(sc scanner) (*Question, error) {
	var out Question
	var options, answerKey []byte
	var minWords sql.NullInt64
	if err := sc.Scan(
		&out.ID, &out.SectionID, &out.TrackID, &out.QuestionNo, &out.QuestionType, &out.Prompt,
		&options, &answerKey, &out.Explanation, &out.Points, &minWords, &out.CreatedAt, &out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	out.Options = []Option{}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &out.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	out.AnswerKey = json.RawMessage(answerKey)
	if minWords.Valid {
		v := int(minWords.Int64)
		out.MinWords = &v
	}
	return &out, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
