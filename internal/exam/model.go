package exam

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrExamNotFound        = errors.New("exam not found")
	ErrExamPublished       = errors.New("exam is published, unpublish it before editing")
	ErrExamHasAttempts     = errors.New("exam already has attempts")
	ErrTrackNotFound       = errors.New("track not found")
	ErrTrackModuleMismatch = errors.New("track module does not match its slot")
	ErrTrackNotPublished   = errors.New("every track of the exam must be published first")
	ErrStudentNotFound     = errors.New("student not found or inactive")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrAttemptNotSubmitted = errors.New("attempt has not been submitted")
	ErrNoWritingTrack      = errors.New("exam has no writing track")
)

const (
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
	StatusScored     = "scored"
)

type Exam struct {
	ID               int64      `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	ListeningTrackID *int64     `json:"listening_track_id,omitempty"`
	ReadingTrackID   *int64     `json:"reading_track_id,omitempty"`
	WritingTrackID   *int64     `json:"writing_track_id,omitempty"`
	ListeningMinutes int        `json:"listening_minutes"`
	ReadingMinutes   int        `json:"reading_minutes"`
	WritingMinutes   int        `json:"writing_minutes"`
	IsPublished      bool       `json:"is_published"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	CreatedBy        *int64     `json:"created_by,omitempty"`
	AssignedCount    int        `json:"assigned_count"`
	AttemptCount     int        `json:"attempt_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type ExamFilter struct {
	Published *bool
	Q         string
}

type ExamInput struct {
	Title            string     `json:"title" validate:"required,min=3,max=200"`
	Description      string     `json:"description" validate:"max=2000"`
	ListeningTrackID *int64     `json:"listening_track_id" validate:"omitempty,gt=0"`
	ReadingTrackID   *int64     `json:"reading_track_id" validate:"omitempty,gt=0"`
	WritingTrackID   *int64     `json:"writing_track_id" validate:"omitempty,gt=0"`
	ListeningMinutes *int       `json:"listening_minutes" validate:"omitempty,min=1,max=240"`
	ReadingMinutes   *int       `json:"reading_minutes" validate:"omitempty,min=1,max=240"`
	WritingMinutes   *int       `json:"writing_minutes" validate:"omitempty,min=1,max=240"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
}

type Assignment struct {
	StudentID   int64     `json:"student_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	CandidateNo string    `json:"candidate_no"`
	AssignedAt  time.Time `json:"assigned_at"`
}

type Attempt struct {
	ID               int64      `json:"id"`
	ExamID           int64      `json:"exam_id"`
	StudentID        int64      `json:"student_id"`
	StudentName      string     `json:"student_name"`
	CandidateNo      string     `json:"candidate_no"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	ListeningRaw     *int       `json:"listening_raw,omitempty"`
	ReadingRaw       *int       `json:"reading_raw,omitempty"`
	ListeningBand    *float64   `json:"listening_band,omitempty"`
	ReadingBand      *float64   `json:"reading_band,omitempty"`
	WritingTask1Band *float64   `json:"writing_task1_band,omitempty"`
	WritingTask2Band *float64   `json:"writing_task2_band,omitempty"`
	WritingBand      *float64   `json:"writing_band,omitempty"`
	OverallBand      *float64   `json:"overall_band,omitempty"`
	ScoredAt         *time.Time `json:"scored_at,omitempty"`
	GradedBy         *int64     `json:"graded_by,omitempty"`
}

// StudentAnswer is one question of the exam with the student's answer, if
// any, and how it scores.
type StudentAnswer struct {
	QuestionID    int64           `json:"question_id"`
	Module        string          `json:"module"`
	SectionNo     int             `json:"section_no"`
	QuestionNo    int             `json:"question_no"`
	QuestionType  string          `json:"question_type"`
	Prompt        string          `json:"prompt"`
	AnswerPayload json.RawMessage `json:"answer_payload,omitempty"`
	Score         ScoreResult     `json:"score"`

	answerKey json.RawMessage
	points    float64
}

type AttemptDetail struct {
	Attempt
	Answers []StudentAnswer `json:"answers"`
}

type WritingInput struct {
	Task1Band *float64 `json:"task1_band" validate:"required,band"`
	Task2Band *float64 `json:"task2_band" validate:"required,band"`
}

// ModuleScore is the objective total of one module of an attempt.
type ModuleScore struct {
	Earned float64 `json:"earned"`
	Max    float64 `json:"max"`
	Raw    int     `json:"raw"`
	Band   float64 `json:"band"`
}
