package content

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"ieltsadmin/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func abcOptions() []Option {
	return []Option{{Key: "a", Text: "Apple"}, {Key: "b", Text: "Banana"}, {Key: "c", Text: "Cherry"}, {Key: "d", Text: "Date"}}
}

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

func TestNormalizeQuestionAnswerKeys(t *testing.T) {
	cases := []struct {
		name    string
		module  string
		in      QuestionInput
		wantKey string
		wantErr string
	}{
		{
			name:    "multiple choice uppercases key",
			module:  ModuleListening,
			in:      QuestionInput{QuestionNo: 1, QuestionType: "Multiple_Choice", Prompt: "Pick", Options: abcOptions(), AnswerKey: json.RawMessage(`{"correct":"b"}`)},
			wantKey: `{"correct":"B"}`,
		},
		{
			name:    "multiple choice unknown option",
			module:  ModuleListening,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMultipleChoice, Prompt: "Pick", Options: abcOptions(), AnswerKey: json.RawMessage(`{"correct":"Z"}`)},
			wantErr: "answer_key",
		},
		{
			name:    "multiple choice needs two options",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMultipleChoice, Prompt: "Pick", Options: abcOptions()[:1], AnswerKey: json.RawMessage(`{"correct":"A"}`)},
			wantErr: "options",
		},
		{
			name:    "duplicate option key",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMatching, Prompt: "Match", Options: []Option{{Key: "A", Text: "x"}, {Key: "a", Text: "y"}}, AnswerKey: json.RawMessage(`{"correct":"A"}`)},
			wantErr: "options[1].key",
		},
		{
			name:    "multiple answer sorted",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMultipleAnswer, Prompt: "Pick two", Options: abcOptions(), AnswerKey: json.RawMessage(`{"correct":["d","a"]}`)},
			wantKey: `{"correct":["A","D"]}`,
		},
		{
			name:    "multiple answer needs two keys",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMultipleAnswer, Prompt: "Pick two", Options: abcOptions(), AnswerKey: json.RawMessage(`{"correct":["A"]}`)},
			wantErr: "answer_key",
		},
		{
			name:    "multiple answer duplicate key",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMultipleAnswer, Prompt: "Pick two", Options: abcOptions(), AnswerKey: json.RawMessage(`{"correct":["A","a"]}`)},
			wantErr: "answer_key",
		},
		{
			name:    "multiple answer needs three options",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMultipleAnswer, Prompt: "Pick two", Options: abcOptions()[:2], AnswerKey: json.RawMessage(`{"correct":["A","B"]}`)},
			wantErr: "options",
		},
		{
			name:    "tfng normalizes spacing",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeTrueFalseNotGiven, Prompt: "Claim", AnswerKey: json.RawMessage(`{"correct":"not  given"}`)},
			wantKey: `{"correct":"NOT GIVEN"}`,
		},
		{
			name:    "ynng rejects TRUE",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeYesNoNotGiven, Prompt: "Claim", AnswerKey: json.RawMessage(`{"correct":"TRUE"}`)},
			wantErr: "answer_key",
		},
		{
			name:    "completion default max words",
			module:  ModuleListening,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeFormCompletion, Prompt: "Name: ____", AnswerKey: json.RawMessage(`{"accepted":["  Mary  Smith ","mary smith"]}`)},
			wantKey: `{"accepted":["Mary Smith"],"max_words":3}`,
		},
		{
			name:    "completion answer over word limit",
			module:  ModuleListening,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeSentenceCompletion, Prompt: "The ____", AnswerKey: json.RawMessage(`{"accepted":["a very long answer"],"max_words":2}`)},
			wantErr: "answer_key",
		},
		{
			name:    "completion empty accepted",
			module:  ModuleListening,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeShortAnswer, Prompt: "Where?", AnswerKey: json.RawMessage(`{"accepted":[" "]}`)},
			wantErr: "answer_key",
		},
		{
			name:    "missing answer key",
			module:  ModuleListening,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeMultipleChoice, Prompt: "Pick", Options: abcOptions()},
			wantErr: "answer_key",
		},
		{
			name:    "type not allowed in module",
			module:  ModuleListening,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeTrueFalseNotGiven, Prompt: "Claim", AnswerKey: json.RawMessage(`{"correct":"TRUE"}`)},
			wantErr: "question_type",
		},
		{
			name:    "essay in reading rejected",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeEssay, Prompt: "Write"},
			wantErr: "question_type",
		},
		{
			name:    "required prompt",
			module:  ModuleReading,
			in:      QuestionInput{QuestionNo: 1, QuestionType: TypeShortAnswer, AnswerKey: json.RawMessage(`{"accepted":["x"]}`)},
			wantErr: "prompt",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := NormalizeQuestion(tc.module, 1, tc.in)
			if tc.wantErr != "" {
				assert.Contains(t, fieldKeys(t, err), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.wantKey, string(out.AnswerKey))
			assert.Equal(t, 1.0, out.Points)
		})
	}
}

func TestNormalizeQuestionEssayDefaults(t *testing.T) {
	t1, err := NormalizeQuestion(ModuleWriting, 1, QuestionInput{QuestionNo: 1, QuestionType: TypeEssay, Prompt: "Describe the chart"})
	require.NoError(t, err)
	require.NotNil(t, t1.MinWords)
	assert.Equal(t, 150, *t1.MinWords)
	assert.JSONEq(t, `{}`, string(t1.AnswerKey))

	t2, err := NormalizeQuestion(ModuleWriting, 2, QuestionInput{QuestionNo: 2, QuestionType: TypeEssay, Prompt: "Discuss"})
	require.NoError(t, err)
	assert.Equal(t, 250, *t2.MinWords)

	custom, err := NormalizeQuestion(ModuleWriting, 2, QuestionInput{QuestionNo: 2, QuestionType: TypeEssay, Prompt: "Discuss", MinWords: intPtr(300), Points: 2})
	require.NoError(t, err)
	assert.Equal(t, 300, *custom.MinWords)
	assert.Equal(t, 2.0, custom.Points)

	_, err = NormalizeQuestion(ModuleWriting, 1, QuestionInput{QuestionNo: 1, QuestionType: TypeEssay, Prompt: "x", AnswerKey: json.RawMessage(`{"correct":"A"}`)})
	assert.Contains(t, fieldKeys(t, err), "answer_key")
}

func TestNormalizeSection(t *testing.T) {
	passage := "<p>" + strings.Repeat("The history of tea is long. ", 3) + "</p>"

	_, err := NormalizeSection(ModuleReading, SectionInput{SectionNo: 1, Title: "Passage 1", PassageHTML: passage})
	assert.NoError(t, err)

	_, err = NormalizeSection(ModuleReading, SectionInput{SectionNo: 1, Title: "Passage 1", PassageHTML: "<p>short</p>"})
	assert.Contains(t, fieldKeys(t, err), "passage_html")

	_, err = NormalizeSection(ModuleReading, SectionInput{SectionNo: 4, Title: "Passage 4", PassageHTML: passage})
	assert.Contains(t, fieldKeys(t, err), "section_no")

	_, err = NormalizeSection(ModuleListening, SectionInput{SectionNo: 4, Title: "Part 4"})
	assert.NoError(t, err)

	_, err = NormalizeSection(ModuleWriting, SectionInput{SectionNo: 3, Title: "Task 3"})
	assert.Contains(t, fieldKeys(t, err), "section_no")

	_, err = NormalizeSection(ModuleListening, SectionInput{SectionNo: 1, Title: "Part 1", ImageURL: "/media/x.png"})
	assert.Contains(t, fieldKeys(t, err), "image_url")

	_, err = NormalizeSection(ModuleWriting, SectionInput{SectionNo: 1, Title: "Task 1", ImageURL: "/media/chart.png"})
	assert.NoError(t, err)
}

func listeningSections() []Section {
	return []Section{
		{ID: 11, SectionNo: 1},
		{ID: 12, SectionNo: 2},
		{ID: 13, SectionNo: 3, AudioStartSecs: intPtr(700), AudioEndSecs: intPtr(1000)},
		{ID: 14, SectionNo: 4},
	}
}

func TestValidateTimings(t *testing.T) {
	sections := listeningSections()

	err := ValidateTimings(nil, sections, []TimingInput{{SectionID: 11, StartSecs: 0, EndSecs: 10}})
	assert.True(t, errors.Is(err, ErrNoAudio))

	ok := []TimingInput{
		{SectionID: 11, StartSecs: 0, EndSecs: 300},
		{SectionID: 12, StartSecs: 300, EndSecs: 650},
		{SectionID: 14, StartSecs: 1000, EndSecs: 1800},
	}
	assert.NoError(t, ValidateTimings(intPtr(1800), sections, ok))

	cases := []struct {
		name    string
		timings []TimingInput
		want    string
	}{
		{"start after end", []TimingInput{{SectionID: 11, StartSecs: 50, EndSecs: 50}}, "timings[0].end_secs"},
		{"negative start", []TimingInput{{SectionID: 11, StartSecs: -1, EndSecs: 50}}, "timings[0].start_secs"},
		{"beyond audio", []TimingInput{{SectionID: 14, StartSecs: 1000, EndSecs: 1900}}, "timings[0].end_secs"},
		{"foreign section", []TimingInput{{SectionID: 99, StartSecs: 0, EndSecs: 10}}, "timings[0].section_id"},
		{"duplicate section", []TimingInput{{SectionID: 11, StartSecs: 0, EndSecs: 10}, {SectionID: 11, StartSecs: 20, EndSecs: 30}}, "timings[1].section_id"},
		{"overlaps edited neighbour", []TimingInput{{SectionID: 11, StartSecs: 0, EndSecs: 320}, {SectionID: 12, StartSecs: 300, EndSecs: 600}}, "timings[1].start_secs"},
		{"overlaps stored neighbour", []TimingInput{{SectionID: 14, StartSecs: 900, EndSecs: 1200}}, "timings[0].start_secs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTimings(intPtr(1800), sections, tc.timings)
			assert.Contains(t, fieldKeys(t, err), tc.want)
		})
	}
}

func completeListeningTree() *TrackTree {
	tree := &TrackTree{Track: Track{Module: ModuleListening, AudioKey: "audio/2026/01/a.mp3"}}
	no := 1
	for s := 1; s <= 4; s++ {
		sec := Section{ID: int64(s), SectionNo: s}
		for i := 0; i < 10; i++ {
			sec.Questions = append(sec.Questions, Question{QuestionNo: no, QuestionType: TypeShortAnswer})
			no++
		}
		tree.Sections = append(tree.Sections, sec)
	}
	return tree
}

func TestPublishProblems(t *testing.T) {
	assert.Empty(t, PublishProblems(completeListeningTree()))

	tree := completeListeningTree()
	tree.AudioKey = ""
	tree.Sections = tree.Sections[:3]
	tree.Sections[1].Questions = nil
	problems := PublishProblems(tree)
	require.Len(t, problems, 4)
	assert.Contains(t, problems[0], "audio")
	assert.Contains(t, problems[1], "exactly 4 sections")
	assert.Contains(t, problems[2], "section 2 has no questions")
	assert.Contains(t, problems[3], "without gaps")

	reading := &TrackTree{Track: Track{Module: ModuleReading}}
	for s := 1; s <= 3; s++ {
		reading.Sections = append(reading.Sections, Section{SectionNo: s, PassageHTML: "text", Questions: []Question{{QuestionNo: s}}})
	}
	reading.Sections[2].PassageHTML = " "
	assert.Equal(t, []string{"section 3 has no passage"}, PublishProblems(reading))

	writing := &TrackTree{Track: Track{Module: ModuleWriting}, Sections: []Section{
		{SectionNo: 1, Questions: []Question{{QuestionNo: 1, QuestionType: TypeEssay}}},
		{SectionNo: 2},
	}}
	problems = PublishProblems(writing)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "task 2 needs exactly one essay")
}

func TestNormalizeTree(t *testing.T) {
	in := TreeInput{
		Track:             TrackInput{Title: " Cambridge 18 Listening 1 ", Module: "Listening"},
		AudioKey:          "audio/2026/01/a.mp3",
		AudioDurationSecs: 1800,
		Sections: []SectionTreeInput{
			{
				SectionInput:   SectionInput{SectionNo: 1, Title: "Part 1"},
				AudioStartSecs: intPtr(0),
				AudioEndSecs:   intPtr(400),
				Questions: []QuestionInput{
					{QuestionNo: 1, QuestionType: TypeFormCompletion, Prompt: "Name", AnswerKey: json.RawMessage(`{"accepted":["Smith"]}`)},
				},
			},
			{
				SectionInput:   SectionInput{SectionNo: 2, Title: "Part 2"},
				AudioStartSecs: intPtr(390),
				AudioEndSecs:   intPtr(800),
				Questions: []QuestionInput{
					{QuestionNo: 1, QuestionType: TypeMultipleChoice, Prompt: "Pick", Options: abcOptions(), AnswerKey: json.RawMessage(`{"correct":"q"}`)},
				},
			},
		},
	}

	_, err := NormalizeTree(in)
	keys := fieldKeys(t, err)
	assert.Contains(t, keys, "sections[1].questions[0].answer_key")

	in.Sections[1].Questions[0].AnswerKey = json.RawMessage(`{"correct":"a"}`)
	_, err = NormalizeTree(in)
	assert.Contains(t, fieldKeys(t, err), "sections[1].questions[0].question_no")

	in.Sections[1].Questions[0].QuestionNo = 2
	_, err = NormalizeTree(in)
	assert.Contains(t, fieldKeys(t, err), "timings[1].start_secs")

	in.Sections[1].AudioStartSecs = intPtr(400)
	out, err := NormalizeTree(in)
	require.NoError(t, err)
	assert.Equal(t, "Cambridge 18 Listening 1", out.Track.Title)
	assert.Equal(t, ModuleListening, out.Track.Module)
	assert.JSONEq(t, `{"correct":"A"}`, string(out.Sections[1].Questions[0].AnswerKey))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "mary smith", NormalizeText("  Mary   SMITH. "))
	assert.Equal(t, "10 am", NormalizeText("(10 AM)"))
}

func TestCheckDeletable(t *testing.T) {
	assert.ErrorIs(t, checkDeletable(&Track{IsPublished: true}, false), ErrTrackPublished)
	assert.ErrorIs(t, checkDeletable(&Track{IsPublished: true}, true), ErrTrackPublished)
	assert.ErrorIs(t, checkDeletable(&Track{}, true), ErrTrackInUse)
	assert.NoError(t, checkDeletable(&Track{}, false))
}
