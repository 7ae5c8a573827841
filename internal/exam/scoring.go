package exam

import (
	"encoding/json"
	"sort"
	"strings"

	"ieltsadmin/internal/content"
)

const (
	reasonCorrect      = "correct"
	reasonWrong        = "wrong"
	reasonPartial      = "partial"
	reasonUnanswered   = "unanswered"
	reasonMalformed    = "malformed_payload"
	reasonBadKey       = "malformed_answer_key"
	reasonTooManyWords = "too_many_words"
	reasonManual       = "manual"
)

type ScoreInput struct {
	QuestionType  string
	AnswerKey     []byte
	AnswerPayload []byte
	Points        float64
}

type ScoreResult struct {
	Answered  bool     `json:"answered"`
	IsCorrect *bool    `json:"is_correct,omitempty"`
	Earned    float64  `json:"earned"`
	MaxPoints float64  `json:"max_points"`
	Reason    string   `json:"reason"`
	Selected  []string `json:"selected,omitempty"`
	Correct   []string `json:"correct,omitempty"`
}

// ScoreQuestion marks one objective answer against its stored key. Essays are
// returned unscored with reason "manual".
func ScoreQuestion(in ScoreInput) ScoreResult {
	points := in.Points
	if points < 0 {
		points = 0
	}

	switch strings.TrimSpace(strings.ToLower(in.QuestionType)) {
	case content.TypeMultipleChoice, content.TypeMatching, content.TypeMatchingHeadings,
		content.TypeMapLabeling, content.TypeTrueFalseNotGiven, content.TypeYesNoNotGiven:
		return scoreSingle(in.AnswerKey, in.AnswerPayload, points)
	case content.TypeMultipleAnswer:
		return scoreMultiple(in.AnswerKey, in.AnswerPayload, points)
	case content.TypeFormCompletion, content.TypeSentenceCompletion, content.TypeShortAnswer:
		return scoreCompletion(in.AnswerKey, in.AnswerPayload, points)
	case content.TypeEssay:
		return ScoreResult{Reason: reasonManual}
	}
	return ScoreResult{Reason: reasonBadKey}
}

func scoreSingle(keyRaw, payloadRaw []byte, points float64) ScoreResult {
	correct, ok := parseSingleKey(keyRaw)
	if !ok {
		return ScoreResult{Reason: reasonBadKey, MaxPoints: points}
	}
	res := ScoreResult{MaxPoints: points, Correct: []string{correct}}

	selected, status := parseSingleSelection(payloadRaw)
	switch status {
	case "unanswered":
		res.Reason = reasonUnanswered
		return res
	case "malformed":
		res.Answered, res.IsCorrect, res.Reason = true, boolPtr(false), reasonMalformed
		return res
	}

	res.Answered = true
	res.Selected = []string{selected}
	if strings.EqualFold(strings.Join(strings.Fields(selected), " "), correct) {
		res.IsCorrect, res.Earned, res.Reason = boolPtr(true), points, reasonCorrect
		return res
	}
	res.IsCorrect, res.Reason = boolPtr(false), reasonWrong
	return res
}

// scoreMultiple gives one mark per correct key selected. Selecting more keys
// than the answer has scores zero.
func scoreMultiple(keyRaw, payloadRaw []byte, points float64) ScoreResult {
	correct, ok := parseMultiKey(keyRaw)
	if !ok {
		return ScoreResult{Reason: reasonBadKey}
	}
	res := ScoreResult{MaxPoints: points * float64(len(correct)), Correct: correct}

	selected, status := parseMultiSelection(payloadRaw)
	switch status {
	case "unanswered":
		res.Reason = reasonUnanswered
		return res
	case "malformed":
		res.Answered, res.IsCorrect, res.Reason = true, boolPtr(false), reasonMalformed
		return res
	}

	res.Answered = true
	res.Selected = selected
	if len(selected) > len(correct) {
		res.IsCorrect, res.Reason = boolPtr(false), reasonWrong
		return res
	}
	want := make(map[string]bool, len(correct))
	for _, k := range correct {
		want[k] = true
	}
	hits := 0
	for _, k := range selected {
		if want[k] {
			hits++
		}
	}
	res.Earned = points * float64(hits)
	switch {
	case hits == len(correct):
		res.IsCorrect, res.Reason = boolPtr(true), reasonCorrect
	case hits == 0:
		res.IsCorrect, res.Reason = boolPtr(false), reasonWrong
	default:
		res.IsCorrect, res.Reason = boolPtr(false), reasonPartial
	}
	return res
}

func scoreCompletion(keyRaw, payloadRaw []byte, points float64) ScoreResult {
	accepted, maxWords, ok := parseCompletionKey(keyRaw)
	if !ok {
		return ScoreResult{Reason: reasonBadKey, MaxPoints: points}
	}
	res := ScoreResult{MaxPoints: points, Correct: accepted}

	text, status := parseText(payloadRaw)
	switch status {
	case "unanswered":
		res.Reason = reasonUnanswered
		return res
	case "malformed":
		res.Answered, res.IsCorrect, res.Reason = true, boolPtr(false), reasonMalformed
		return res
	}

	res.Answered = true
	res.Selected = []string{text}
	norm := content.NormalizeText(text)
	if maxWords > 0 && len(strings.Fields(norm)) > maxWords {
		res.IsCorrect, res.Reason = boolPtr(false), reasonTooManyWords
		return res
	}
	for _, a := range accepted {
		if content.NormalizeText(a) == norm {
			res.IsCorrect, res.Earned, res.Reason = boolPtr(true), points, reasonCorrect
			return res
		}
	}
	res.IsCorrect, res.Reason = boolPtr(false), reasonWrong
	return res
}

func parseSingleKey(raw []byte) (string, bool) {
	var obj struct {
		Correct string `json:"correct"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return "", false
	}
	correct := strings.ToUpper(strings.Join(strings.Fields(obj.Correct), " "))
	return correct, correct != ""
}

func parseMultiKey(raw []byte) ([]string, bool) {
	var obj struct {
		Correct []string `json:"correct"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return nil, false
	}
	out := normalizeKeySet(obj.Correct)
	return out, len(out) > 0
}

func parseCompletionKey(raw []byte) ([]string, int, bool) {
	var obj struct {
		Accepted []string `json:"accepted"`
		MaxWords int      `json:"max_words"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return nil, 0, false
	}
	out := make([]string, 0, len(obj.Accepted))
	for _, a := range obj.Accepted {
		if strings.TrimSpace(a) != "" {
			out = append(out, a)
		}
	}
	return out, obj.MaxWords, len(out) > 0
}

func parseSingleSelection(raw []byte) (string, string) {
	obj, status := decodePayload(raw)
	if status != "" {
		return "", status
	}
	v, ok := obj["selected"]
	if !ok {
		return "", "unanswered"
	}
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return "", "unanswered"
		}
		return t, "answered"
	case []interface{}:
		if len(t) == 0 {
			return "", "unanswered"
		}
		if len(t) > 1 {
			return "", "malformed"
		}
		s, ok := t[0].(string)
		if !ok {
			return "", "malformed"
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", "unanswered"
		}
		return s, "answered"
	}
	return "", "malformed"
}

func parseMultiSelection(raw []byte) ([]string, string) {
	obj, status := decodePayload(raw)
	if status != "" {
		return nil, status
	}
	v, ok := obj["selected"]
	if !ok {
		return nil, "unanswered"
	}
	var list []string
	switch t := v.(type) {
	case string:
		list = []string{t}
	case []interface{}:
		for _, it := range t {
			s, ok := it.(string)
			if !ok {
				return nil, "malformed"
			}
			list = append(list, s)
		}
	default:
		return nil, "malformed"
	}
	list = normalizeKeySet(list)
	if len(list) == 0 {
		return nil, "unanswered"
	}
	return list, "answered"
}

// parseText reads a typed answer from {"text": ...}, falling back to a
// string "selected".
func parseText(raw []byte) (string, string) {
	obj, status := decodePayload(raw)
	if status != "" {
		return "", status
	}
	v, ok := obj["text"]
	if !ok {
		v, ok = obj["selected"]
	}
	if !ok || v == nil {
		return "", "unanswered"
	}
	s, ok := v.(string)
	if !ok {
		return "", "malformed"
	}
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", "unanswered"
	}
	return s, "answered"
}

func decodePayload(raw []byte) (map[string]interface{}, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, "unanswered"
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, "malformed"
	}
	return obj, ""
}

func normalizeKeySet(in []string) []string {
	set := map[string]struct{}{}
	for _, v := range in {
		s := strings.ToUpper(strings.TrimSpace(v))
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func boolPtr(v bool) *bool {
	return &v
}
