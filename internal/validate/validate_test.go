package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sectionForm struct {
	Title string `json:"title" validate:"required,min=3"`
}

type trackForm struct {
	Title    string        `json:"title" validate:"required,min=3"`
	Module   string        `json:"module" validate:"required,oneof=listening reading writing"`
	Email    string        `json:"email" validate:"omitempty,email"`
	Band     *float64      `json:"band" validate:"omitempty,band"`
	Sections []sectionForm `json:"sections" validate:"dive"`
}

func TestStructValid(t *testing.T) {
	band := 6.5
	err := Struct(trackForm{Title: "Cambridge 18 Test 1", Module: "listening", Band: &band})
	assert.NoError(t, err)
}

func TestStructFieldErrorsUseJSONNames(t *testing.T) {
	err := Struct(trackForm{Title: "ab", Module: "speaking", Email: "nope"})
	require.Error(t, err)

	var fe FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe, "title")
	assert.Contains(t, fe, "module")
	assert.Contains(t, fe, "email")
}

func TestStructRequiredMessage(t *testing.T) {
	err := Struct(trackForm{Module: "reading"})
	var fe FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "title is required", fe["title"])
}

func TestStructNestedPath(t *testing.T) {
	err := Struct(trackForm{Title: "Reading 1", Module: "reading", Sections: []sectionForm{{Title: "Passage 1"}, {Title: ""}}})
	var fe FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe, "sections[1].title")
	assert.NotContains(t, fe, "sections[0].title")
}

func TestBandValidation(t *testing.T) {
	bad := 6.3
	err := Struct(trackForm{Title: "Writing", Module: "writing", Band: &bad})
	var fe FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe["band"], "band between 0 and 9")
}

func TestIsBand(t *testing.T) {
	cases := map[float64]bool{0: true, 4.5: true, 9: true, 9.5: false, -0.5: false, 7.25: false}
	for in, want := range cases {
		assert.Equal(t, want, IsBand(in), "band %v", in)
	}
}

func TestFieldErrorsPrefixedAndMerge(t *testing.T) {
	fe := FieldErrors{"answer_key": "answer_key is required"}
	out := FieldErrors{}
	out.Merge(fe.Prefixed("questions[2]"))
	assert.Equal(t, FieldErrors{"questions[2].answer_key": "answer_key is required"}, out)

	got, ok := AsFieldErrors(error(out))
	require.True(t, ok)
	assert.Len(t, got, 1)

	_, ok = AsFieldErrors(errors.New("plain"))
	assert.False(t, ok)
}
