package content

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTrackNotFound     = errors.New("track not found")
	ErrSectionNotFound   = errors.New("section not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrTrackInUse        = errors.New("track is used by an exam")
	ErrTrackPublished    = errors.New("track is published, unpublish it before editing its content")
	ErrTrackIncomplete   = errors.New("track is not ready to publish")
	ErrNoAudio           = errors.New("track has no audio")
	ErrDuplicateSection  = errors.New("section number already used in this track")
	ErrDuplicateQuestion = errors.New("question number already used in this track")
)

const (
	ModuleListening = "listening"
	ModuleReading   = "reading"
	ModuleWriting   = "writing"
)

const (
	TypeMultipleChoice     = "multiple_choice"
	TypeMultipleAnswer     = "multiple_answer"
	TypeTrueFalseNotGiven  = "true_false_not_given"
	TypeYesNoNotGiven      = "yes_no_not_given"
	TypeMatching           = "matching"
	TypeMatchingHeadings   = "matching_headings"
	TypeMapLabeling        = "map_labeling"
	TypeFormCompletion     = "form_completion"
	TypeSentenceCompletion = "sentence_completion"
	TypeShortAnswer        = "short_answer"
	TypeEssay              = "essay"
)

// SectionCount is the number of sections a complete track of the module has:
// four listening parts, three reading passages, two writing tasks.
func SectionCount(module string) int {
	switch module {
	case ModuleListening:
		return 4
	case ModuleReading:
		return 3
	case ModuleWriting:
		return 2
	}
	return 0
}

func IsModule(module string) bool {
	return SectionCount(module) > 0
}

var allowedTypes = map[string]map[string]bool{
	ModuleListening: {
		TypeMultipleChoice:     true,
		TypeMultipleAnswer:     true,
		TypeMatching:           true,
		TypeMapLabeling:        true,
		TypeFormCompletion:     true,
		TypeSentenceCompletion: true,
		TypeShortAnswer:        true,
	},
	ModuleReading: {
		TypeMultipleChoice:     true,
		TypeMultipleAnswer:     true,
		TypeTrueFalseNotGiven:  true,
		TypeYesNoNotGiven:      true,
		TypeMatching:           true,
		TypeMatchingHeadings:   true,
		TypeSentenceCompletion: true,
		TypeShortAnswer:        true,
	},
	ModuleWriting: {
		TypeEssay: true,
	},
}

func TypeAllowed(module, questionType string) bool {
	return allowedTypes[module][questionType]
}

type Track struct {
	ID                int64      `json:"id"`
	Title             string     `json:"title"`
	Module            string     `json:"module"`
	Description       string     `json:"description,omitempty"`
	AudioKey          string     `json:"audio_key,omitempty"`
	AudioURL          string     `json:"audio_url,omitempty"`
	AudioDurationSecs *int       `json:"audio_duration_secs,omitempty"`
	IsPublished       bool       `json:"is_published"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	CreatedBy         *int64     `json:"created_by,omitempty"`
	SectionCount      int        `json:"section_count"`
	QuestionCount     int        `json:"question_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type Section struct {
	ID             int64      `json:"id"`
	TrackID        int64      `json:"track_id"`
	SectionNo      int        `json:"section_no"`
	Title          string     `json:"title"`
	Instructions   string     `json:"instructions,omitempty"`
	PassageHTML    string     `json:"passage_html,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	AudioStartSecs *int       `json:"audio_start_secs,omitempty"`
	AudioEndSecs   *int       `json:"audio_end_secs,omitempty"`
	Questions      []Question `json:"questions,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Option struct {
	Key  string `json:"key" validate:"required,max=8"`
	Text string `json:"text" validate:"required,max=1000"`
}

type Question struct {
	ID           int64           `json:"id"`
	SectionID    int64           `json:"section_id"`
	TrackID      int64           `json:"track_id"`
	QuestionNo   int             `json:"question_no"`
	QuestionType string          `json:"question_type"`
	Prompt       string          `json:"prompt"`
	Options      []Option        `json:"options"`
	AnswerKey    json.RawMessage `json:"answer_key"`
	Explanation  string          `json:"explanation,omitempty"`
	Points       float64         `json:"points"`
	MinWords     *int            `json:"min_words,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TrackTree is a track with its sections and their questions nested in
// section_no / question_no order.
type TrackTree struct {
	Track
	Sections []Section `json:"sections"`
}

type TrackFilter struct {
	Module    string
	Published *bool
	Q         string
}

type TrackInput struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Module      string `json:"module" validate:"required,oneof=listening reading writing"`
	Description string `json:"description" validate:"max=2000"`
}

type TrackUpdateInput struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type SectionInput struct {
	SectionNo    int    `json:"section_no" validate:"required,min=1,max=4"`
	Title        string `json:"title" validate:"required,min=2,max=200"`
	Instructions string `json:"instructions" validate:"max=4000"`
	PassageHTML  string `json:"passage_html"`
	ImageURL     string `json:"image_url" validate:"max=1000"`
}

type QuestionInput struct {
	QuestionNo   int             `json:"question_no" validate:"required,min=1,max=200"`
	QuestionType string          `json:"question_type" validate:"required"`
	Prompt       string          `json:"prompt" validate:"required,max=8000"`
	Options      []Option        `json:"options" validate:"dive"`
	AnswerKey    json.RawMessage `json:"answer_key"`
	Explanation  string          `json:"explanation" validate:"max=4000"`
	Points       float64         `json:"points" validate:"gte=0,lte=10"`
	MinWords     *int            `json:"min_words" validate:"omitempty,min=1,max=1000"`
}

type AudioInput struct {
	AudioKey     string `json:"audio_key" validate:"required,max=500"`
	DurationSecs int    `json:"duration_secs" validate:"required,min=1,max=14400"`
}

type TimingInput struct {
	SectionID int64 `json:"section_id"`
	StartSecs int   `json:"start_secs"`
	EndSecs   int   `json:"end_secs"`
}

// TreeInput is a complete track as assembled by the upload wizard.
type TreeInput struct {
	Track             TrackInput
	AudioKey          string
	AudioDurationSecs int
	Sections          []SectionTreeInput
}

type SectionTreeInput struct {
	SectionInput
	AudioStartSecs *int
	AudioEndSecs   *int
	Questions      []QuestionInput
}
