package wizard

import (
	"encoding/json"
	"strings"
	"testing"

	"ieltsadmin/internal/content"
	"ieltsadmin/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldKeys(t *testing.T, err error) []string {
	t.Helper()
	fe, ok := validate.AsFieldErrors(err)
	require.True(t, ok, "expected field errors, got %v", err)
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	return keys
}

func mustDraft(t *testing.T, module string) *Draft {
	t.Helper()
	d, err := newDraft(module)
	require.NoError(t, err)
	return d
}

func save(t *testing.T, d *Draft, step, body string) {
	t.Helper()
	require.NoError(t, applyStep(d, step, json.RawMessage(body)))
}

const twoParts = `{"sections":[
	{"section_no":1,"audio_start_secs":0,"audio_end_secs":300},
	{"section_no":2,"title":"Campus tour","audio_start_secs":300,"audio_end_secs":600}
]}`

const twoQuestions = `{"questions":[
	{"section_no":2,"question_no":2,"question_type":"form_completion","prompt":"Name","answer_key":{"accepted":["Smith"]}},
	{"section_no":1,"question_no":1,"question_type":"multiple_choice","prompt":"Pick","options":[{"key":"a","text":"One"},{"key":"b","text":"Two"}],"answer_key":{"correct":"a"}}
]}`

func TestNewDraftRejectsUnknownModule(t *testing.T) {
	_, err := newDraft("speaking")
	assert.Contains(t, fieldKeys(t, err), "module")

	d := mustDraft(t, " Reading ")
	assert.Equal(t, content.ModuleReading, d.Module)
	assert.Equal(t, StepDetails, d.Step)
	assert.Equal(t, []string{StepDetails, StepPassages, StepQuestions, StepReview}, d.Steps)
}

func TestListeningWalkthrough(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)

	save(t, d, StepDetails, `{"title":"  Practice Test 1 ","description":"Cambridge style"}`)
	assert.Equal(t, StepAudio, d.Step)
	assert.Equal(t, "Practice Test 1", d.Payload.Details.Title)

	save(t, d, StepAudio, `{"audio_key":"audio/2026/10/a.mp3","duration_secs":1800}`)
	assert.Equal(t, StepSections, d.Step)

	save(t, d, StepSections, twoParts)
	assert.Equal(t, StepQuestions, d.Step)
	assert.Equal(t, "Part 1", d.Payload.Sections[0].Title)
	assert.Equal(t, "Campus tour", d.Payload.Sections[1].Title)

	save(t, d, StepQuestions, twoQuestions)
	assert.Equal(t, StepReview, d.Step)
	require.Len(t, d.Payload.Questions, 2)
	assert.Equal(t, 1, d.Payload.Questions[0].QuestionNo)
	assert.JSONEq(t, `{"correct":"A"}`, string(d.Payload.Questions[0].AnswerKey))

	tree, err := buildTree(d)
	require.NoError(t, err)
	assert.Equal(t, "audio/2026/10/a.mp3", tree.AudioKey)
	require.Len(t, tree.Sections, 2)
	assert.Len(t, tree.Sections[0].Questions, 1)
	assert.Equal(t, 300, *tree.Sections[1].AudioStartSecs)
	_, err = content.NormalizeTree(tree)
	assert.NoError(t, err)
}

func TestSaveEarlierStepKeepsPosition(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)
	save(t, d, StepDetails, `{"title":"Practice Test 1"}`)
	save(t, d, StepAudio, `{"audio_key":"a.mp3","duration_secs":1800}`)

	save(t, d, StepDetails, `{"title":"Practice Test 2"}`)
	assert.Equal(t, StepSections, d.Step)
	assert.Equal(t, "Practice Test 2", d.Payload.Details.Title)
}

func TestLaterStepIsLocked(t *testing.T) {
	d := mustDraft(t, content.ModuleReading)
	err := applyStep(d, StepQuestions, json.RawMessage(`{"questions":[]}`))
	assert.ErrorIs(t, err, ErrStepLocked)

	err = applyStep(d, StepAudio, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestReviewHasNothingToSave(t *testing.T) {
	d := mustDraft(t, content.ModuleWriting)
	d.Step = StepReview
	assert.ErrorIs(t, applyStep(d, StepReview, json.RawMessage(`{}`)), ErrInvalidInput)
}

func TestInvalidStepDoesNotAdvance(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)
	err := applyStep(d, StepDetails, json.RawMessage(`{"title":"ab"}`))
	assert.Contains(t, fieldKeys(t, err), "title")
	assert.Equal(t, StepDetails, d.Step)
	assert.Nil(t, d.Payload.Details)

	assert.ErrorIs(t, applyStep(d, StepDetails, json.RawMessage(`not json`)), ErrInvalidInput)
	assert.ErrorIs(t, applyStep(d, StepDetails, nil), ErrInvalidInput)
}

func TestShrinkingSectionsDropsQuestions(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)
	save(t, d, StepDetails, `{"title":"Practice Test 1"}`)
	save(t, d, StepAudio, `{"audio_key":"a.mp3","duration_secs":1800}`)
	save(t, d, StepSections, twoParts)
	save(t, d, StepQuestions, twoQuestions)

	save(t, d, StepSections, `{"sections":[{"section_no":1}]}`)
	assert.Equal(t, StepReview, d.Step)
	require.Len(t, d.Payload.Questions, 1)
	assert.Equal(t, 1, d.Payload.Questions[0].SectionNo)
}

func TestSectionsRules(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)
	save(t, d, StepDetails, `{"title":"Practice Test 1"}`)
	save(t, d, StepAudio, `{"audio_key":"a.mp3","duration_secs":600}`)

	err := applyStep(d, StepSections, json.RawMessage(`{"sections":[]}`))
	assert.Contains(t, fieldKeys(t, err), "sections")

	err = applyStep(d, StepSections, json.RawMessage(`{"sections":[{"section_no":1},{"section_no":1}]}`))
	assert.Contains(t, fieldKeys(t, err), "sections[1].section_no")

	err = applyStep(d, StepSections, json.RawMessage(`{"sections":[{"section_no":1,"audio_start_secs":0}]}`))
	assert.Contains(t, fieldKeys(t, err), "sections[0].audio_end_secs")

	err = applyStep(d, StepSections, json.RawMessage(`{"sections":[
		{"section_no":1,"audio_start_secs":0,"audio_end_secs":300},
		{"section_no":2,"audio_start_secs":200,"audio_end_secs":900}
	]}`))
	keys := fieldKeys(t, err)
	assert.Contains(t, keys, "sections[1].audio_end_secs")

	err = applyStep(d, StepSections, json.RawMessage(`{"sections":[{"section_no":1,"prompt":"Write"}]}`))
	assert.Contains(t, fieldKeys(t, err), "sections[0].prompt")
	assert.Equal(t, StepSections, d.Step)
}

func TestAudioMustFitSavedTimings(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)
	save(t, d, StepDetails, `{"title":"Practice Test 1"}`)
	save(t, d, StepAudio, `{"audio_key":"a.mp3","duration_secs":1800}`)
	save(t, d, StepSections, twoParts)

	err := applyStep(d, StepAudio, json.RawMessage(`{"audio_key":"b.mp3","duration_secs":400}`))
	assert.Contains(t, fieldKeys(t, err), "duration_secs")
	assert.Equal(t, "a.mp3", d.Payload.Audio.AudioKey)
}

func TestQuestionsRules(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)
	save(t, d, StepDetails, `{"title":"Practice Test 1"}`)
	save(t, d, StepAudio, `{"audio_key":"a.mp3","duration_secs":1800}`)
	save(t, d, StepSections, `{"sections":[{"section_no":1}]}`)

	err := applyStep(d, StepQuestions, json.RawMessage(`{"questions":[]}`))
	assert.Contains(t, fieldKeys(t, err), "questions")

	err = applyStep(d, StepQuestions, json.RawMessage(`{"questions":[
		{"section_no":3,"question_no":1,"question_type":"short_answer","prompt":"Where?","answer_key":{"accepted":["park"]}}
	]}`))
	assert.Contains(t, fieldKeys(t, err), "questions[0].section_no")

	err = applyStep(d, StepQuestions, json.RawMessage(`{"questions":[
		{"section_no":1,"question_no":1,"question_type":"short_answer","prompt":"Where?","answer_key":{"accepted":["park"]}},
		{"section_no":1,"question_no":1,"question_type":"short_answer","prompt":"When?","answer_key":{"accepted":["noon"]}}
	]}`))
	assert.Contains(t, fieldKeys(t, err), "questions[1].question_no")

	err = applyStep(d, StepQuestions, json.RawMessage(`{"questions":[
		{"section_no":1,"question_no":1,"question_type":"multiple_choice","prompt":"Pick","options":[{"key":"a","text":"One"},{"key":"b","text":"Two"}],"answer_key":{"correct":"z"}}
	]}`))
	assert.Contains(t, fieldKeys(t, err), "questions[0].answer_key")
}

func TestWritingTasksBecomeEssays(t *testing.T) {
	d := mustDraft(t, content.ModuleWriting)
	save(t, d, StepDetails, `{"title":"Writing Test 1"}`)

	err := applyStep(d, StepTasks, json.RawMessage(`{"sections":[{"section_no":1}]}`))
	assert.Contains(t, fieldKeys(t, err), "sections[0].prompt")

	save(t, d, StepTasks, `{"sections":[
		{"section_no":2,"prompt":"Some people think..."},
		{"section_no":1,"prompt":"The chart shows...","image_url":"/media/image/chart.png","min_words":160}
	]}`)
	assert.Equal(t, StepReview, d.Step)

	tree, err := buildTree(d)
	require.NoError(t, err)
	require.Len(t, tree.Sections, 2)
	assert.Equal(t, "Task 1", tree.Sections[0].Title)
	require.Len(t, tree.Sections[0].Questions, 1)
	q := tree.Sections[0].Questions[0]
	assert.Equal(t, content.TypeEssay, q.QuestionType)
	assert.Equal(t, 160, *q.MinWords)

	norm, err := content.NormalizeTree(tree)
	require.NoError(t, err)
	assert.Equal(t, 250, *norm.Sections[1].Questions[0].MinWords)
}

func TestReadingPassageRules(t *testing.T) {
	d := mustDraft(t, content.ModuleReading)
	save(t, d, StepDetails, `{"title":"Reading Test 1"}`)

	err := applyStep(d, StepPassages, json.RawMessage(`{"sections":[{"section_no":1,"passage_html":"<p>short</p>"}]}`))
	assert.Contains(t, fieldKeys(t, err), "sections[0].passage_html")

	passage := "<p>" + strings.Repeat("Bees communicate by dancing. ", 4) + "</p>"
	body, err := json.Marshal(sectionsRequest{Sections: []SectionStep{{SectionNo: 1, PassageHTML: passage}}})
	require.NoError(t, err)
	require.NoError(t, applyStep(d, StepPassages, body))
	assert.Equal(t, "Passage 1", d.Payload.Sections[0].Title)
	assert.Equal(t, StepQuestions, d.Step)
}

func TestBack(t *testing.T) {
	d := mustDraft(t, content.ModuleWriting)
	assert.ErrorIs(t, back(d), ErrFirstStep)

	save(t, d, StepDetails, `{"title":"Writing Test 1"}`)
	require.NoError(t, back(d))
	assert.Equal(t, StepDetails, d.Step)
	assert.NotNil(t, d.Payload.Details)
}

func TestBuildTreeNeedsSavedSteps(t *testing.T) {
	d := mustDraft(t, content.ModuleListening)
	d.Step = StepReview
	_, err := buildTree(d)
	keys := fieldKeys(t, err)
	assert.ElementsMatch(t, []string{StepDetails, StepAudio, "sections", StepQuestions}, keys)
}
