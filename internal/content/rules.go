package content

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ieltsadmin/internal/validate"
)

const (
	defaultMaxWords  = 3
	task1MinWords    = 150
	task2MinWords    = 250
	minPassageLength = 50
)

// NormalizeSection checks a section against the module it belongs to and
// returns the trimmed copy.
func NormalizeSection(module string, in SectionInput) (SectionInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Instructions = strings.TrimSpace(in.Instructions)
	in.PassageHTML = strings.TrimSpace(in.PassageHTML)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if err := validate.Struct(in); err != nil {
		return in, err
	}

	fe := validate.FieldErrors{}
	if max := SectionCount(module); in.SectionNo > max {
		fe["section_no"] = fmt.Sprintf("section_no must be between 1 and %d for %s", max, module)
	}
	switch module {
	case ModuleReading:
		if len([]rune(stripTags(in.PassageHTML))) < minPassageLength {
			fe["passage_html"] = fmt.Sprintf("passage_html must contain at least %d characters of text", minPassageLength)
		}
	default:
		if in.PassageHTML != "" {
			fe["passage_html"] = "passage_html is only used by reading tracks"
		}
	}
	if in.ImageURL != "" && module != ModuleWriting {
		fe["image_url"] = "image_url is only used by writing tracks"
	}
	if len(fe) > 0 {
		return in, fe
	}
	return in, nil
}

// NormalizeQuestion checks a question against its module and section and
// returns a copy with canonical option keys, answer key and defaults applied.
// Errors are validate.FieldErrors keyed by the question's JSON fields.
func NormalizeQuestion(module string, sectionNo int, in QuestionInput) (QuestionInput, error) {
	in.QuestionType = strings.ToLower(strings.TrimSpace(in.QuestionType))
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.Explanation = strings.TrimSpace(in.Explanation)
	if err := validate.Struct(in); err != nil {
		return in, err
	}
	if !TypeAllowed(module, in.QuestionType) {
		return in, validate.FieldErrors{"question_type": fmt.Sprintf("question_type %q is not allowed in %s", in.QuestionType, module)}
	}
	if in.Points == 0 {
		in.Points = 1
	}

	var err error
	switch in.QuestionType {
	case TypeMultipleChoice, TypeMatching, TypeMatchingHeadings, TypeMapLabeling:
		in, err = normalizeSingleChoice(in)
	case TypeMultipleAnswer:
		in, err = normalizeMultipleAnswer(in)
	case TypeTrueFalseNotGiven:
		in, err = normalizeJudgement(in, "TRUE", "FALSE", "NOT GIVEN")
	case TypeYesNoNotGiven:
		in, err = normalizeJudgement(in, "YES", "NO", "NOT GIVEN")
	case TypeFormCompletion, TypeSentenceCompletion, TypeShortAnswer:
		in, err = normalizeCompletion(in)
	case TypeEssay:
		in, err = normalizeEssay(in, sectionNo)
	}
	return in, err
}

func normalizeOptions(in QuestionInput, min int) ([]Option, map[string]bool, error) {
	if len(in.Options) < min {
		return nil, nil, validate.FieldErrors{"options": fmt.Sprintf("options must contain at least %d items", min)}
	}
	seen := map[string]bool{}
	out := make([]Option, 0, len(in.Options))
	for i, opt := range in.Options {
		key := strings.ToUpper(strings.TrimSpace(opt.Key))
		text := strings.TrimSpace(opt.Text)
		if key == "" || text == "" {
			return nil, nil, validate.FieldErrors{fmt.Sprintf("options[%d]", i): "option key and text are required"}
		}
		if seen[key] {
			return nil, nil, validate.FieldErrors{fmt.Sprintf("options[%d].key", i): fmt.Sprintf("duplicate option key %q", key)}
		}
		seen[key] = true
		out = append(out, Option{Key: key, Text: text})
	}
	return out, seen, nil
}

func decodeKey(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, validate.FieldErrors{"answer_key": "answer_key is required"}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, validate.FieldErrors{"answer_key": "answer_key must be a JSON object"}
	}
	return obj, nil
}

func normalizeSingleChoice(in QuestionInput) (QuestionInput, error) {
	opts, keys, err := normalizeOptions(in, 2)
	if err != nil {
		return in, err
	}
	obj, err := decodeKey(in.AnswerKey)
	if err != nil {
		return in, err
	}
	var correct string
	if err := json.Unmarshal(obj["correct"], &correct); err != nil || strings.TrimSpace(correct) == "" {
		return in, validate.FieldErrors{"answer_key": "answer_key.correct must name one option"}
	}
	correct = strings.ToUpper(strings.TrimSpace(correct))
	if !keys[correct] {
		return in, validate.FieldErrors{"answer_key": fmt.Sprintf("answer_key references unknown option %q", correct)}
	}
	in.Options = opts
	in.AnswerKey = mustJSON(map[string]any{"correct": correct})
	return in, nil
}

func normalizeMultipleAnswer(in QuestionInput) (QuestionInput, error) {
	opts, keys, err := normalizeOptions(in, 3)
	if err != nil {
		return in, err
	}
	obj, err := decodeKey(in.AnswerKey)
	if err != nil {
		return in, err
	}
	var raw []string
	if err := json.Unmarshal(obj["correct"], &raw); err != nil {
		return in, validate.FieldErrors{"answer_key": "answer_key.correct must be a list of option keys"}
	}
	if len(raw) < 2 {
		return in, validate.FieldErrors{"answer_key": "answer_key.correct must list at least 2 options"}
	}
	seen := map[string]bool{}
	correct := make([]string, 0, len(raw))
	for _, k := range raw {
		k = strings.ToUpper(strings.TrimSpace(k))
		if !keys[k] {
			return in, validate.FieldErrors{"answer_key": fmt.Sprintf("answer_key references unknown option %q", k)}
		}
		if seen[k] {
			return in, validate.FieldErrors{"answer_key": fmt.Sprintf("answer_key has duplicate option %q", k)}
		}
		seen[k] = true
		correct = append(correct, k)
	}
	sort.Strings(correct)
	in.Options = opts
	in.AnswerKey = mustJSON(map[string]any{"correct": correct})
	return in, nil
}

func normalizeJudgement(in QuestionInput, allowed ...string) (QuestionInput, error) {
	if len(in.Options) > 0 {
		return in, validate.FieldErrors{"options": "options are fixed for " + in.QuestionType}
	}
	obj, err := decodeKey(in.AnswerKey)
	if err != nil {
		return in, err
	}
	var correct string
	_ = json.Unmarshal(obj["correct"], &correct)
	correct = strings.Join(strings.Fields(strings.ToUpper(correct)), " ")
	for _, a := range allowed {
		if correct == a {
			in.Options = []Option{}
			in.AnswerKey = mustJSON(map[string]any{"correct": correct})
			return in, nil
		}
	}
	return in, validate.FieldErrors{"answer_key": "answer_key.correct must be one of " + strings.Join(allowed, ", ")}
}

func normalizeCompletion(in QuestionInput) (QuestionInput, error) {
	if len(in.Options) > 0 {
		return in, validate.FieldErrors{"options": "completion questions take no options"}
	}
	obj, err := decodeKey(in.AnswerKey)
	if err != nil {
		return in, err
	}
	maxWords := defaultMaxWords
	if raw, ok := obj["max_words"]; ok {
		if err := json.Unmarshal(raw, &maxWords); err != nil || maxWords < 1 || maxWords > 10 {
			return in, validate.FieldErrors{"answer_key": "answer_key.max_words must be between 1 and 10"}
		}
	}
	var raw []string
	if err := json.Unmarshal(obj["accepted"], &raw); err != nil {
		return in, validate.FieldErrors{"answer_key": "answer_key.accepted must be a list of answers"}
	}
	accepted := make([]string, 0, len(raw))
	seen := map[string]bool{}
	for _, a := range raw {
		a = strings.Join(strings.Fields(a), " ")
		if a == "" {
			continue
		}
		if n := len(strings.Fields(a)); n > maxWords {
			return in, validate.FieldErrors{"answer_key": fmt.Sprintf("accepted answer %q has %d words, limit is %d", a, n, maxWords)}
		}
		norm := NormalizeText(a)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		accepted = append(accepted, a)
	}
	if len(accepted) == 0 {
		return in, validate.FieldErrors{"answer_key": "answer_key.accepted needs at least one answer"}
	}
	in.Options = []Option{}
	in.AnswerKey = mustJSON(map[string]any{"accepted": accepted, "max_words": maxWords})
	return in, nil
}

func normalizeEssay(in QuestionInput, sectionNo int) (QuestionInput, error) {
	if len(in.Options) > 0 {
		return in, validate.FieldErrors{"options": "essay questions take no options"}
	}
	if len(in.AnswerKey) > 0 && string(in.AnswerKey) != "null" && string(in.AnswerKey) != "{}" {
		return in, validate.FieldErrors{"answer_key": "essay questions have no answer key"}
	}
	if in.MinWords == nil {
		n := task1MinWords
		if sectionNo == 2 {
			n = task2MinWords
		}
		in.MinWords = &n
	}
	in.Options = []Option{}
	in.AnswerKey = json.RawMessage(`{}`)
	return in, nil
}

// NormalizeText is the comparison form of a typed answer: lower case, single
// spaces and no surrounding punctuation.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.Trim(s, ".,;:!?\"'()[]")
}

// ValidateTimings checks a timing edit against the track's sections. Ranges
// for sections not in timings keep their stored values and take part in the
// overlap check.
func ValidateTimings(durationSecs *int, sections []Section, timings []TimingInput) error {
	if durationSecs == nil || *durationSecs <= 0 {
		return ErrNoAudio
	}
	duration := *durationSecs

	type span struct {
		sectionNo  int
		start, end int
		field      string
	}
	byID := make(map[int64]Section, len(sections))
	for _, s := range sections {
		byID[s.ID] = s
	}

	fe := validate.FieldErrors{}
	edited := map[int64]span{}
	for i, t := range timings {
		field := fmt.Sprintf("timings[%d]", i)
		sec, ok := byID[t.SectionID]
		if !ok {
			fe[field+".section_id"] = "section does not belong to this track"
			continue
		}
		if _, dup := edited[t.SectionID]; dup {
			fe[field+".section_id"] = "section appears more than once"
			continue
		}
		switch {
		case t.StartSecs < 0:
			fe[field+".start_secs"] = "start_secs cannot be negative"
		case t.StartSecs >= t.EndSecs:
			fe[field+".end_secs"] = "end_secs must be after start_secs"
		case t.EndSecs > duration:
			fe[field+".end_secs"] = fmt.Sprintf("end_secs must not exceed the audio length (%ds)", duration)
		}
		edited[t.SectionID] = span{sectionNo: sec.SectionNo, start: t.StartSecs, end: t.EndSecs, field: field}
	}
	if len(fe) > 0 {
		return fe
	}

	spans := make([]span, 0, len(sections))
	for _, s := range sections {
		if sp, ok := edited[s.ID]; ok {
			spans = append(spans, sp)
			continue
		}
		if s.AudioStartSecs != nil && s.AudioEndSecs != nil {
			spans = append(spans, span{sectionNo: s.SectionNo, start: *s.AudioStartSecs, end: *s.AudioEndSecs})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].sectionNo < spans[j].sectionNo })
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if cur.start < prev.end {
			field := cur.field
			if field == "" {
				field = prev.field
			}
			if field == "" {
				field = "timings"
			}
			fe[field+".start_secs"] = fmt.Sprintf("section %d starts before section %d ends", cur.sectionNo, prev.sectionNo)
		}
	}
	if len(fe) > 0 {
		return fe
	}
	return nil
}

// PublishProblems lists everything that keeps a track from being published.
// An empty result means the track is complete.
func PublishProblems(tree *TrackTree) []string {
	problems := make([]string, 0)
	want := SectionCount(tree.Module)

	if tree.Module == ModuleListening && tree.AudioKey == "" {
		problems = append(problems, "listening track needs an audio file")
	}
	if len(tree.Sections) != want {
		problems = append(problems, fmt.Sprintf("%s track needs exactly %d sections, has %d", tree.Module, want, len(tree.Sections)))
	}

	numbers := make([]int, 0)
	for _, s := range tree.Sections {
		switch tree.Module {
		case ModuleReading:
			if strings.TrimSpace(s.PassageHTML) == "" {
				problems = append(problems, fmt.Sprintf("section %d has no passage", s.SectionNo))
			}
		case ModuleWriting:
			essays := 0
			for _, q := range s.Questions {
				if q.QuestionType == TypeEssay {
					essays++
				}
			}
			if essays != 1 {
				problems = append(problems, fmt.Sprintf("task %d needs exactly one essay prompt, has %d", s.SectionNo, essays))
			}
		}
		if tree.Module != ModuleWriting && len(s.Questions) == 0 {
			problems = append(problems, fmt.Sprintf("section %d has no questions", s.SectionNo))
		}
		for _, q := range s.Questions {
			numbers = append(numbers, q.QuestionNo)
		}
	}

	sort.Ints(numbers)
	for i, n := range numbers {
		if n != i+1 {
			problems = append(problems, fmt.Sprintf("question numbers must run 1 to %d without gaps (found %d at position %d)", len(numbers), n, i+1))
			break
		}
	}
	return problems
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
