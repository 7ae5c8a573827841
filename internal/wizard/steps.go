package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ieltsadmin/internal/content"
	"ieltsadmin/internal/validate"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrDraftNotFound = errors.New("draft not found")
	ErrUnknownStep   = errors.New("unknown step")
	ErrStepLocked    = errors.New("step is locked until the previous steps are saved")
	ErrNotReady      = errors.New("draft is not at the review step")
	ErrFirstStep     = errors.New("draft is already at the first step")
)

const (
	StepDetails   = "details"
	StepAudio     = "audio"
	StepSections  = "sections"
	StepPassages  = "passages"
	StepTasks     = "tasks"
	StepQuestions = "questions"
	StepReview    = "review"
)

var moduleSteps = map[string][]string{
	content.ModuleListening: {StepDetails, StepAudio, StepSections, StepQuestions, StepReview},
	content.ModuleReading:   {StepDetails, StepPassages, StepQuestions, StepReview},
	content.ModuleWriting:   {StepDetails, StepTasks, StepReview},
}

// Steps returns the ordered steps of the wizard for module.
func Steps(module string) []string {
	return append([]string(nil), moduleSteps[module]...)
}

func stepIndex(module, step string) int {
	for i, s := range moduleSteps[module] {
		if s == step {
			return i
		}
	}
	return -1
}

type Draft struct {
	ID        string    `json:"id"`
	Module    string    `json:"module"`
	Step      string    `json:"step"`
	Steps     []string  `json:"steps"`
	Payload   Payload   `json:"payload"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Payload struct {
	Details   *DetailsStep   `json:"details,omitempty"`
	Audio     *AudioStep     `json:"audio,omitempty"`
	Sections  []SectionStep  `json:"sections,omitempty"`
	Questions []QuestionStep `json:"questions,omitempty"`
}

type DetailsStep struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type AudioStep struct {
	AudioKey     string `json:"audio_key" validate:"required,max=500"`
	DurationSecs int    `json:"duration_secs" validate:"required,min=1,max=14400"`
}

// SectionStep is one listening part, reading passage or writing task.
type SectionStep struct {
	SectionNo      int    `json:"section_no" validate:"required,min=1,max=4"`
	Title          string `json:"title" validate:"max=200"`
	Instructions   string `json:"instructions" validate:"max=4000"`
	PassageHTML    string `json:"passage_html,omitempty"`
	ImageURL       string `json:"image_url,omitempty" validate:"max=1000"`
	Prompt         string `json:"prompt,omitempty" validate:"max=8000"`
	MinWords       *int   `json:"min_words,omitempty" validate:"omitempty,min=1,max=1000"`
	AudioStartSecs *int   `json:"audio_start_secs,omitempty"`
	AudioEndSecs   *int   `json:"audio_end_secs,omitempty"`
}

type QuestionStep struct {
	SectionNo int `json:"section_no"`
	content.QuestionInput
}

type sectionsRequest struct {
	Sections []SectionStep `json:"sections"`
}

type questionsRequest struct {
	Questions []QuestionStep `json:"questions"`
}

func newDraft(module string) (*Draft, error) {
	module = strings.ToLower(strings.TrimSpace(module))
	if !content.IsModule(module) {
		return nil, validate.FieldErrors{"module": "module must be one of listening, reading, writing"}
	}
	return &Draft{Module: module, Step: StepDetails, Steps: Steps(module)}, nil
}

// applyStep validates raw as the payload of step, stores it in d and moves
// the draft forward when step is the current one.
func applyStep(d *Draft, step string, raw json.RawMessage) error {
	idx := stepIndex(d.Module, step)
	if idx < 0 {
		return fmt.Errorf("%w: %q is not a %s step", ErrUnknownStep, step, d.Module)
	}
	current := stepIndex(d.Module, d.Step)
	if idx > current {
		return ErrStepLocked
	}
	if step == StepReview {
		return fmt.Errorf("%w: the review step has nothing to save, commit the draft instead", ErrInvalidInput)
	}

	var err error
	switch step {
	case StepDetails:
		err = applyDetails(d, raw)
	case StepAudio:
		err = applyAudio(d, raw)
	case StepSections, StepPassages, StepTasks:
		err = applySections(d, raw)
	case StepQuestions:
		err = applyQuestions(d, raw)
	}
	if err != nil {
		return err
	}

	if idx == current && idx < len(moduleSteps[d.Module])-1 {
		d.Step = moduleSteps[d.Module][idx+1]
	}
	return nil
}

func back(d *Draft) error {
	idx := stepIndex(d.Module, d.Step)
	if idx <= 0 {
		return ErrFirstStep
	}
	d.Step = moduleSteps[d.Module][idx-1]
	return nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: step payload is required", ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: step payload is not valid JSON for this step", ErrInvalidInput)
	}
	return nil
}

func applyDetails(d *Draft, raw json.RawMessage) error {
	var in DetailsStep
	if err := decodeStrict(raw, &in); err != nil {
		return err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return err
	}
	d.Payload.Details = &in
	return nil
}

func applyAudio(d *Draft, raw json.RawMessage) error {
	var in AudioStep
	if err := decodeStrict(raw, &in); err != nil {
		return err
	}
	in.AudioKey = strings.TrimSpace(in.AudioKey)
	if err := validate.Struct(in); err != nil {
		return err
	}
	if err := checkTimings(in.DurationSecs, d.Payload.Sections); err != nil {
		return validate.FieldErrors{"duration_secs": "saved section timings do not fit this audio, fix them first"}
	}
	d.Payload.Audio = &in
	return nil
}

func applySections(d *Draft, raw json.RawMessage) error {
	var in sectionsRequest
	if err := decodeStrict(raw, &in); err != nil {
		return err
	}
	limit := content.SectionCount(d.Module)
	if len(in.Sections) == 0 || len(in.Sections) > limit {
		return validate.FieldErrors{"sections": fmt.Sprintf("between 1 and %d sections are needed", limit)}
	}

	fe := validate.FieldErrors{}
	seen := map[int]bool{}
	for i := range in.Sections {
		prefix := fmt.Sprintf("sections[%d]", i)
		s := normalizeSectionStep(d.Module, in.Sections[i])
		in.Sections[i] = s

		if err := validate.Struct(s); err != nil {
			if sub, ok := validate.AsFieldErrors(err); ok {
				fe.Merge(sub.Prefixed(prefix))
				continue
			}
			return err
		}
		if seen[s.SectionNo] {
			fe[prefix+".section_no"] = fmt.Sprintf("section %d appears more than once", s.SectionNo)
		}
		seen[s.SectionNo] = true

		if _, err := content.NormalizeSection(d.Module, toSectionInput(s)); err != nil {
			if sub, ok := validate.AsFieldErrors(err); ok {
				fe.Merge(sub.Prefixed(prefix))
			}
		}
		switch d.Module {
		case content.ModuleWriting:
			if s.Prompt == "" {
				fe[prefix+".prompt"] = "prompt is required"
			}
		default:
			if s.Prompt != "" || s.MinWords != nil {
				fe[prefix+".prompt"] = "prompt is only used by writing tasks"
			}
		}
		if d.Module != content.ModuleListening && (s.AudioStartSecs != nil || s.AudioEndSecs != nil) {
			fe[prefix+".audio_start_secs"] = "timings are only used by listening parts"
		}
		if (s.AudioStartSecs == nil) != (s.AudioEndSecs == nil) {
			fe[prefix+".audio_end_secs"] = "start and end must be given together"
		}
	}
	if len(fe) > 0 {
		return fe
	}
	if d.Payload.Audio != nil {
		if err := checkTimings(d.Payload.Audio.DurationSecs, in.Sections); err != nil {
			return err
		}
	}

	sort.Slice(in.Sections, func(i, j int) bool { return in.Sections[i].SectionNo < in.Sections[j].SectionNo })
	d.Payload.Sections = in.Sections

	kept := d.Payload.Questions[:0]
	for _, q := range d.Payload.Questions {
		if seen[q.SectionNo] {
			kept = append(kept, q)
		}
	}
	d.Payload.Questions = kept
	return nil
}

func applyQuestions(d *Draft, raw json.RawMessage) error {
	var in questionsRequest
	if err := decodeStrict(raw, &in); err != nil {
		return err
	}
	if len(in.Questions) == 0 {
		return validate.FieldErrors{"questions": "at least one question is required"}
	}
	sectionNos := map[int]bool{}
	for _, s := range d.Payload.Sections {
		sectionNos[s.SectionNo] = true
	}

	fe := validate.FieldErrors{}
	seen := map[int]bool{}
	for i := range in.Questions {
		prefix := fmt.Sprintf("questions[%d]", i)
		q := in.Questions[i]
		if !sectionNos[q.SectionNo] {
			fe[prefix+".section_no"] = fmt.Sprintf("section %d does not exist in this draft", q.SectionNo)
			continue
		}
		norm, err := content.NormalizeQuestion(d.Module, q.SectionNo, q.QuestionInput)
		if err != nil {
			if sub, ok := validate.AsFieldErrors(err); ok {
				fe.Merge(sub.Prefixed(prefix))
				continue
			}
			return err
		}
		if seen[norm.QuestionNo] {
			fe[prefix+".question_no"] = fmt.Sprintf("question %d appears more than once", norm.QuestionNo)
		}
		seen[norm.QuestionNo] = true
		in.Questions[i].QuestionInput = norm
	}
	if len(fe) > 0 {
		return fe
	}

	sort.SliceStable(in.Questions, func(i, j int) bool { return in.Questions[i].QuestionNo < in.Questions[j].QuestionNo })
	d.Payload.Questions = in.Questions
	return nil
}

func normalizeSectionStep(module string, s SectionStep) SectionStep {
	s.Title = strings.TrimSpace(s.Title)
	s.Instructions = strings.TrimSpace(s.Instructions)
	s.PassageHTML = strings.TrimSpace(s.PassageHTML)
	s.ImageURL = strings.TrimSpace(s.ImageURL)
	s.Prompt = strings.TrimSpace(s.Prompt)
	if s.Title == "" && s.SectionNo > 0 {
		s.Title = defaultSectionTitle(module, s.SectionNo)
	}
	return s
}

func defaultSectionTitle(module string, no int) string {
	switch module {
	case content.ModuleReading:
		return fmt.Sprintf("Passage %d", no)
	case content.ModuleWriting:
		return fmt.Sprintf("Task %d", no)
	}
	return fmt.Sprintf("Part %d", no)
}

func toSectionInput(s SectionStep) content.SectionInput {
	return content.SectionInput{
		SectionNo:    s.SectionNo,
		Title:        s.Title,
		Instructions: s.Instructions,
		PassageHTML:  s.PassageHTML,
		ImageURL:     s.ImageURL,
	}
}

func checkTimings(duration int, sections []SectionStep) error {
	secs := make([]content.Section, 0, len(sections))
	timings := make([]content.TimingInput, 0)
	owner := map[int]int{}
	for i, s := range sections {
		id := int64(i + 1)
		secs = append(secs, content.Section{ID: id, SectionNo: s.SectionNo})
		if s.AudioStartSecs != nil && s.AudioEndSecs != nil {
			owner[len(timings)] = i
			timings = append(timings, content.TimingInput{SectionID: id, StartSecs: *s.AudioStartSecs, EndSecs: *s.AudioEndSecs})
		}
	}
	if len(timings) == 0 {
		return nil
	}
	err := content.ValidateTimings(&duration, secs, timings)
	if fe, ok := validate.AsFieldErrors(err); ok {
		return renameTimingErrors(fe, owner)
	}
	return err
}

// renameTimingErrors maps "timings[i].x" keys back to "sections[j].audio_x".
func renameTimingErrors(fe validate.FieldErrors, owner map[int]int) validate.FieldErrors {
	out := validate.FieldErrors{}
	for k, v := range fe {
		renamed := k
		for ti, si := range owner {
			prefix := fmt.Sprintf("timings[%d].", ti)
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			field := strings.TrimPrefix(k, prefix)
			if field == "start_secs" || field == "end_secs" {
				field = "audio_" + field
			}
			renamed = fmt.Sprintf("sections[%d].%s", si, field)
			break
		}
		if renamed == k && strings.HasPrefix(k, "timings.") {
			renamed = "sections"
		}
		out[renamed] = v
	}
	return out
}

// buildTree turns a draft at review into the content tree to insert.
func buildTree(d *Draft) (content.TreeInput, error) {
	fe := validate.FieldErrors{}
	if d.Payload.Details == nil {
		fe[StepDetails] = "details step has not been saved"
	}
	if d.Module == content.ModuleListening && d.Payload.Audio == nil {
		fe[StepAudio] = "audio step has not been saved"
	}
	if len(d.Payload.Sections) == 0 {
		fe["sections"] = "no sections have been saved"
	}
	if d.Module != content.ModuleWriting && len(d.Payload.Questions) == 0 {
		fe[StepQuestions] = "no questions have been saved"
	}
	if len(fe) > 0 {
		return content.TreeInput{}, fe
	}

	tree := content.TreeInput{
		Track: content.TrackInput{
			Title:       d.Payload.Details.Title,
			Module:      d.Module,
			Description: d.Payload.Details.Description,
		},
	}
	if d.Payload.Audio != nil {
		tree.AudioKey = d.Payload.Audio.AudioKey
		tree.AudioDurationSecs = d.Payload.Audio.DurationSecs
	}

	bySection := map[int][]content.QuestionInput{}
	for _, q := range d.Payload.Questions {
		bySection[q.SectionNo] = append(bySection[q.SectionNo], q.QuestionInput)
	}
	for _, s := range d.Payload.Sections {
		st := content.SectionTreeInput{
			SectionInput:   toSectionInput(s),
			AudioStartSecs: s.AudioStartSecs,
			AudioEndSecs:   s.AudioEndSecs,
			Questions:      bySection[s.SectionNo],
		}
		if d.Module == content.ModuleWriting {
			st.Questions = []content.QuestionInput{{
				QuestionNo:   s.SectionNo,
				QuestionType: content.TypeEssay,
				Prompt:       s.Prompt,
				MinWords:     s.MinWords,
			}}
		}
		tree.Sections = append(tree.Sections, st)
	}
	return tree, nil
}
