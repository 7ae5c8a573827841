package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ieltsadmin/internal/audit"
	"ieltsadmin/internal/content"
	"ieltsadmin/internal/db"
	"ieltsadmin/internal/validate"
)

type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MinuteDefaults supplies the section durations used when an exam does not
// set its own.
type MinuteDefaults interface {
	ExamMinutes(ctx context.Context) (listening, reading, writing int, err error)
}

type Service struct {
	db       *sql.DB
	defaults MinuteDefaults
	audit    *audit.Recorder
}

func NewService(db *sql.DB, defaults MinuteDefaults, rec *audit.Recorder) *Service {
	return &Service{db: db, defaults: defaults, audit: rec}
}

const examColumns = `
	e.id, e.title, COALESCE(e.description, ''), e.listening_track_id, e.reading_track_id, e.writing_track_id,
	e.listening_minutes, e.reading_minutes, e.writing_minutes, e.is_published, e.scheduled_at, e.created_by,
	(SELECT COUNT(1) FROM exam_assignments a WHERE a.exam_id = e.id),
	(SELECT COUNT(1) FROM test_attempts t WHERE t.exam_id = e.id),
	e.created_at, e.updated_at`

const attemptColumns = `
	t.id, t.exam_id, t.student_id, st.full_name, st.candidate_no, t.status, t.started_at, t.submitted_at,
	t.listening_raw, t.reading_raw, t.listening_band::float8, t.reading_band::float8,
	t.writing_task1_band::float8, t.writing_task2_band::float8, t.writing_band::float8, t.overall_band::float8,
	t.scored_at, t.graded_by`

func (s *Service) ListExams(ctx context.Context, f ExamFilter) ([]Exam, error) {
	var published any
	if f.Published != nil {
		published = *f.Published
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+examColumns+`
		FROM exams e
		WHERE ($1::boolean IS NULL OR e.is_published = $1::boolean)
		  AND ($2 = '' OR LOWER(e.title) LIKE $2)
		ORDER BY COALESCE(e.scheduled_at, e.created_at) DESC, e.id DESC
	`, published, db.ContainsPattern(f.Q))
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	out := make([]Exam, 0)
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

func (s *Service) GetExam(ctx context.Context, examID int64) (*Exam, error) {
	return loadExam(ctx, s.db, examID, false)
}

func (s *Service) CreateExam(ctx context.Context, actorID int64, in ExamInput) (*Exam, error) {
	in, err := s.normalizeInput(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.checkTracks(ctx, s.db, in); err != nil {
		return nil, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO exams (
			title, description, listening_track_id, reading_track_id, writing_track_id,
			listening_minutes, reading_minutes, writing_minutes, scheduled_at, created_by, created_at, updated_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, NULLIF($10, 0), now(), now())
		RETURNING id
	`, in.Title, in.Description, in.ListeningTrackID, in.ReadingTrackID, in.WritingTrackID,
		*in.ListeningMinutes, *in.ReadingMinutes, *in.WritingMinutes, in.ScheduledAt, actorID).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}

	s.audit.Record(ctx, actorID, "exam_created", "exam", id, map[string]any{"title": in.Title})
	return s.GetExam(ctx, id)
}

func (s *Service) UpdateExam(ctx context.Context, actorID, examID int64, in ExamInput) (*Exam, error) {
	in, err := s.normalizeInput(ctx, in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := loadExam(ctx, tx, examID, true)
	if err != nil {
		return nil, err
	}
	if current.IsPublished {
		return nil, ErrExamPublished
	}
	if err := s.checkTracks(ctx, tx, in); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE exams
		SET title = $2, description = NULLIF($3, ''),
			listening_track_id = $4, reading_track_id = $5, writing_track_id = $6,
			listening_minutes = $7, reading_minutes = $8, writing_minutes = $9,
			scheduled_at = $10, updated_at = now()
		WHERE id = $1
	`, examID, in.Title, in.Description, in.ListeningTrackID, in.ReadingTrackID, in.WritingTrackID,
		*in.ListeningMinutes, *in.ReadingMinutes, *in.WritingMinutes, in.ScheduledAt)
	if err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.audit.Record(ctx, actorID, "exam_updated", "exam", examID, map[string]any{"title": in.Title})
	return s.GetExam(ctx, examID)
}

func (s *Service) DeleteExam(ctx context.Context, actorID, examID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := loadExam(ctx, tx, examID, true)
	if err != nil {
		return err
	}
	if e.AttemptCount > 0 {
		return ErrExamHasAttempts
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, examID); err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.audit.Record(ctx, actorID, "exam_deleted", "exam", examID, map[string]any{"title": e.Title})
	return nil
}

// PublishExam makes an exam visible. Every referenced track must itself be
// published.
func (s *Service) PublishExam(ctx context.Context, actorID, examID int64) (*Exam, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := loadExam(ctx, tx, examID, true)
	if err != nil {
		return nil, err
	}
	var unpublished []string
	rows, err := tx.QueryContext(ctx, `
		SELECT title FROM tracks
		WHERE id = ANY(ARRAY[$1, $2, $3]::bigint[]) AND NOT is_published
		ORDER BY id
	`, e.ListeningTrackID, e.ReadingTrackID, e.WritingTrackID)
	if err != nil {
		return nil, fmt.Errorf("query exam tracks: %w", err)
	}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan track: %w", err)
		}
		unpublished = append(unpublished, title)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	if len(unpublished) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotPublished, strings.Join(unpublished, ", "))
	}

	if _, err := tx.ExecContext(ctx, `UPDATE exams SET is_published = TRUE, updated_at = now() WHERE id = $1`, examID); err != nil {
		return nil, fmt.Errorf("publish exam: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	s.audit.Record(ctx, actorID, "exam_published", "exam", examID, nil)
	return s.GetExam(ctx, examID)
}

func (s *Service) UnpublishExam(ctx context.Context, actorID, examID int64) (*Exam, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET is_published = FALSE, updated_at = now() WHERE id = $1`, examID)
	if err != nil {
		return nil, fmt.Errorf("unpublish exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrExamNotFound
	}
	s.audit.Record(ctx, actorID, "exam_unpublished", "exam", examID, nil)
	return s.GetExam(ctx, examID)
}

func (s *Service) ListAssignments(ctx context.Context, examID int64) ([]Assignment, error) {
	if _, err := loadExam(ctx, s.db, examID, false); err != nil {
		return nil, err
	}
	return listAssignments(ctx, s.db, examID)
}

// ReplaceAssignments sets the students assigned to an exam to exactly
// studentIDs.
func (s *Service) ReplaceAssignments(ctx context.Context, actorID, examID int64, studentIDs []int64) ([]Assignment, error) {
	ids := uniqueIDs(studentIDs)
	for _, id := range ids {
		if id <= 0 {
			return nil, validate.FieldErrors{"student_ids": "student ids must be positive"}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := loadExam(ctx, tx, examID, true); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		var found int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM students WHERE id = ANY($1::bigint[]) AND is_active
		`, ids).Scan(&found); err != nil {
			return nil, fmt.Errorf("count students: %w", err)
		}
		if found != len(ids) {
			return nil, ErrStudentNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM exam_assignments WHERE exam_id = $1 AND NOT (student_id = ANY($2::bigint[]))
	`, examID, ids); err != nil {
		return nil, fmt.Errorf("clear assignments: %w", err)
	}
	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_assignments (exam_id, student_id, assigned_at)
			SELECT $1, unnest($2::bigint[]), now()
			ON CONFLICT (exam_id, student_id) DO NOTHING
		`, examID, ids); err != nil {
			return nil, fmt.Errorf("insert assignments: %w", err)
		}
	}
	out, err := listAssignments(ctx, tx, examID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	s.audit.Record(ctx, actorID, "exam_assignments_replaced", "exam", examID, map[string]any{"students": len(ids)})
	return out, nil
}

func (s *Service) ListAttempts(ctx context.Context, examID int64) ([]Attempt, error) {
	if _, err := loadExam(ctx, s.db, examID, false); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM test_attempts t
		JOIN students st ON st.id = t.student_id
		WHERE t.exam_id = $1
		ORDER BY t.started_at DESC, t.id DESC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *Service) GetAttempt(ctx context.Context, attemptID int64) (*AttemptDetail, error) {
	a, err := loadAttempt(ctx, s.db, attemptID, false)
	if err != nil {
		return nil, err
	}
	answers, err := loadAnswers(ctx, s.db, a.ExamID, a.ID)
	if err != nil {
		return nil, err
	}
	scoreAnswers(answers)
	return &AttemptDetail{Attempt: *a, Answers: answers}, nil
}

// ScoreAttempt marks every objective answer of a submitted attempt and stores
// the listening and reading raw scores and bands.
func (s *Service) ScoreAttempt(ctx context.Context, actorID, attemptID int64) (*AttemptDetail, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusInProgress {
		return nil, ErrAttemptNotSubmitted
	}
	answers, err := loadAnswers(ctx, tx, a.ExamID, a.ID)
	if err != nil {
		return nil, err
	}
	scoreAnswers(answers)

	for _, ans := range answers {
		if ans.AnswerPayload == nil || ans.Score.Reason == reasonManual {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE student_answers
			SET is_correct = $3, earned_points = $4, updated_at = now()
			WHERE attempt_id = $1 AND question_id = $2
		`, a.ID, ans.QuestionID, ans.Score.IsCorrect, ans.Score.Earned); err != nil {
			return nil, fmt.Errorf("update answer score: %w", err)
		}
	}

	totals := ModuleTotals(answers)
	var listeningRaw, readingRaw *int
	var listeningBand, readingBand *float64
	if ms, ok := totals[content.ModuleListening]; ok {
		listeningRaw, listeningBand = &ms.Raw, &ms.Band
	}
	if ms, ok := totals[content.ModuleReading]; ok {
		readingRaw, readingBand = &ms.Raw, &ms.Band
	}
	overall := OverallBand(listeningBand, readingBand, a.WritingBand)
	slots, err := loadModuleSlots(ctx, tx, a.ExamID)
	if err != nil {
		return nil, err
	}
	status := slots.status(listeningBand, readingBand, a.WritingBand)

	if _, err := tx.ExecContext(ctx, `
		UPDATE test_attempts
		SET listening_raw = $2, reading_raw = $3, listening_band = $4, reading_band = $5,
			overall_band = $6, status = $7, scored_at = now(), graded_by = $8
		WHERE id = $1
	`, a.ID, listeningRaw, readingRaw, listeningBand, readingBand, overall, status, actorID); err != nil {
		return nil, fmt.Errorf("update attempt scores: %w", err)
	}
	updated, err := loadAttempt(ctx, tx, a.ID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.audit.Record(ctx, actorID, "attempt_scored", "attempt", a.ID, map[string]any{
		"listening_raw": listeningRaw,
		"reading_raw":   readingRaw,
		"overall_band":  overall,
	})
	return &AttemptDetail{Attempt: *updated, Answers: answers}, nil
}

// GradeWriting stores the examiner's task bands and recomputes the writing
// and overall bands.
func (s *Service) GradeWriting(ctx context.Context, actorID, attemptID int64, in WritingInput) (*Attempt, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusInProgress {
		return nil, ErrAttemptNotSubmitted
	}
	slots, err := loadModuleSlots(ctx, tx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if !slots.Writing {
		return nil, ErrNoWritingTrack
	}

	writing := WritingBand(*in.Task1Band, *in.Task2Band)
	overall := OverallBand(a.ListeningBand, a.ReadingBand, &writing)
	status := slots.status(a.ListeningBand, a.ReadingBand, &writing)
	if _, err := tx.ExecContext(ctx, `
		UPDATE test_attempts
		SET writing_task1_band = $2, writing_task2_band = $3, writing_band = $4,
			overall_band = $5, graded_by = $6, scored_at = now(), status = $7
		WHERE id = $1
	`, a.ID, *in.Task1Band, *in.Task2Band, writing, overall, actorID, status); err != nil {
		return nil, fmt.Errorf("update writing bands: %w", err)
	}
	updated, err := loadAttempt(ctx, tx, a.ID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.audit.Record(ctx, actorID, "writing_graded", "attempt", a.ID, map[string]any{
		"task1_band":   *in.Task1Band,
		"task2_band":   *in.Task2Band,
		"writing_band": writing,
	})
	return updated, nil
}

func scoreAnswers(answers []StudentAnswer) {
	for i := range answers {
		answers[i].Score = ScoreQuestion(ScoreInput{
			QuestionType:  answers[i].QuestionType,
			AnswerKey:     answers[i].answerKey,
			AnswerPayload: answers[i].AnswerPayload,
			Points:        answers[i].points,
		})
	}
}

// ModuleTotals sums scored answers per objective module and converts each
// total to a raw score out of 40 and a band.
func ModuleTotals(answers []StudentAnswer) map[string]ModuleScore {
	out := map[string]ModuleScore{}
	for _, a := range answers {
		if a.Module != content.ModuleListening && a.Module != content.ModuleReading {
			continue
		}
		ms := out[a.Module]
		ms.Earned += a.Score.Earned
		ms.Max += a.Score.MaxPoints
		out[a.Module] = ms
	}
	for module, ms := range out {
		ms.Raw = ScaleRaw(ms.Earned, ms.Max)
		ms.Band = RawToBand(module, ms.Raw)
		out[module] = ms
	}
	return out
}

func (s *Service) normalizeInput(ctx context.Context, in ExamInput) (ExamInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return in, err
	}
	if in.ListeningTrackID == nil && in.ReadingTrackID == nil && in.WritingTrackID == nil {
		return in, validate.FieldErrors{"tracks": "at least one of listening, reading or writing track is required"}
	}

	listening, reading, writing := 30, 60, 60
	if s.defaults != nil {
		l, r, w, err := s.defaults.ExamMinutes(ctx)
		if err != nil {
			return in, fmt.Errorf("load exam defaults: %w", err)
		}
		listening, reading, writing = l, r, w
	}
	if in.ListeningMinutes == nil {
		in.ListeningMinutes = &listening
	}
	if in.ReadingMinutes == nil {
		in.ReadingMinutes = &reading
	}
	if in.WritingMinutes == nil {
		in.WritingMinutes = &writing
	}
	if in.ScheduledAt != nil {
		t := in.ScheduledAt.UTC()
		in.ScheduledAt = &t
	}
	return in, nil
}

// checkTracks verifies each referenced track exists and has the module of
// its slot.
func (s *Service) checkTracks(ctx context.Context, q queryable, in ExamInput) error {
	slots := []struct {
		module string
		field  string
		id     *int64
	}{
		{content.ModuleListening, "listening_track_id", in.ListeningTrackID},
		{content.ModuleReading, "reading_track_id", in.ReadingTrackID},
		{content.ModuleWriting, "writing_track_id", in.WritingTrackID},
	}
	for _, slot := range slots {
		if slot.id == nil {
			continue
		}
		var module string
		err := q.QueryRowContext(ctx, `SELECT module FROM tracks WHERE id = $1`, *slot.id).Scan(&module)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s %d", ErrTrackNotFound, slot.field, *slot.id)
		}
		if err != nil {
			return fmt.Errorf("load track: %w", err)
		}
		if module != slot.module {
			return fmt.Errorf("%w: %s points to a %s track", ErrTrackModuleMismatch, slot.field, module)
		}
	}
	return nil
}

func loadExam(ctx context.Context, q queryable, examID int64, forUpdate bool) (*Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams e WHERE e.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF e`
	}
	return scanExam(q.QueryRowContext(ctx, query, examID))
}

// moduleSlots records which module tracks an exam carries.
type moduleSlots struct {
	Listening bool
	Reading   bool
	Writing   bool
}

func loadModuleSlots(ctx context.Context, q queryable, examID int64) (moduleSlots, error) {
	var listening, reading, writing sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT listening_track_id, reading_track_id, writing_track_id FROM exams WHERE id = $1
	`, examID).Scan(&listening, &reading, &writing)
	if err != nil {
		return moduleSlots{}, fmt.Errorf("load exam tracks: %w", err)
	}
	return moduleSlots{Listening: listening.Valid, Reading: reading.Valid, Writing: writing.Valid}, nil
}

// status is scored once every module the exam carries has a band, and
// submitted until then.
func (m moduleSlots) status(listening, reading, writing *float64) string {
	if (m.Listening && listening == nil) || (m.Reading && reading == nil) || (m.Writing && writing == nil) {
		return StatusSubmitted
	}
	return StatusScored
}

func loadAttempt(ctx context.Context, q queryable, attemptID int64, forUpdate bool) (*Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM test_attempts t
		JOIN students st ON st.id = t.student_id
		WHERE t.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF t`
	}
	return scanAttempt(q.QueryRowContext(ctx, query, attemptID))
}

func listAssignments(ctx context.Context, q queryable, examID int64) ([]Assignment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT st.id, st.full_name, st.email, st.candidate_no, a.assigned_at
		FROM exam_assignments a
		JOIN students st ON st.id = a.student_id
		WHERE a.exam_id = $1
		ORDER BY st.full_name, st.id
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := make([]Assignment, 0)
	for rows.Next() {
		var it Assignment
		if err := rows.Scan(&it.StudentID, &it.FullName, &it.Email, &it.CandidateNo, &it.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// loadAnswers returns every question of the exam's tracks joined with the
// attempt's answers. Unanswered questions have a nil payload.
func loadAnswers(ctx context.Context, q queryable, examID, attemptID int64) ([]StudentAnswer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT q.id, tr.module, s.section_no, q.question_no, q.question_type, q.prompt,
			q.answer_key, q.points::float8, a.answer_payload
		FROM exams e
		JOIN tracks tr ON tr.id IN (e.listening_track_id, e.reading_track_id, e.writing_track_id)
		JOIN track_questions q ON q.track_id = tr.id
		JOIN track_sections s ON s.id = q.section_id
		LEFT JOIN student_answers a ON a.question_id = q.id AND a.attempt_id = $2
		WHERE e.id = $1
		ORDER BY CASE tr.module WHEN 'listening' THEN 1 WHEN 'reading' THEN 2 ELSE 3 END,
			s.section_no, q.question_no
	`, examID, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make([]StudentAnswer, 0)
	for rows.Next() {
		var (
			it      StudentAnswer
			key     []byte
			payload []byte
		)
		if err := rows.Scan(&it.QuestionID, &it.Module, &it.SectionNo, &it.QuestionNo, &it.QuestionType,
			&it.Prompt, &key, &it.points, &payload); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		it.answerKey = key
		if payload != nil {
			it.AnswerPayload = json.RawMessage(payload)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExam(sc scanner) (*Exam, error) {
	var (
		e                           Exam
		listening, reading, writing sql.NullInt64
		scheduledAt                 sql.NullTime
		createdBy                   sql.NullInt64
	)
	err := sc.Scan(&e.ID, &e.Title, &e.Description, &listening, &reading, &writing,
		&e.ListeningMinutes, &e.ReadingMinutes, &e.WritingMinutes, &e.IsPublished, &scheduledAt, &createdBy,
		&e.AssignedCount, &e.AttemptCount, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan exam: %w", err)
	}
	e.ListeningTrackID = nullInt64(listening)
	e.ReadingTrackID = nullInt64(reading)
	e.WritingTrackID = nullInt64(writing)
	e.CreatedBy = nullInt64(createdBy)
	if scheduledAt.Valid {
		t := scheduledAt.Time
		e.ScheduledAt = &t
	}
	return &e, nil
}

func scanAttempt(sc scanner) (*Attempt, error) {
	var (
		a                        Attempt
		submittedAt, scoredAt    sql.NullTime
		listeningRaw, readingRaw sql.NullInt32
		lb, rb, w1, w2, wb, ob   sql.NullFloat64
		gradedBy                 sql.NullInt64
	)
	err := sc.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StudentName, &a.CandidateNo, &a.Status, &a.StartedAt,
		&submittedAt, &listeningRaw, &readingRaw, &lb, &rb, &w1, &w2, &wb, &ob, &scoredAt, &gradedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	a.SubmittedAt = nullTime(submittedAt)
	a.ScoredAt = nullTime(scoredAt)
	if listeningRaw.Valid {
		v := int(listeningRaw.Int32)
		a.ListeningRaw = &v
	}
	if readingRaw.Valid {
		v := int(readingRaw.Int32)
		a.ReadingRaw = &v
	}
	a.ListeningBand = nullFloat(lb)
	a.ReadingBand = nullFloat(rb)
	a.WritingTask1Band = nullFloat(w1)
	a.WritingTask2Band = nullFloat(w2)
	a.WritingBand = nullFloat(wb)
	a.OverallBand = nullFloat(ob)
	a.GradedBy = nullInt64(gradedBy)
	return &a, nil
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	out := v.Float64
	return &out
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	out := v.Time
	return &out
}

func uniqueIDs(in []int64) []int64 {
	seen := make(map[int64]bool, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
