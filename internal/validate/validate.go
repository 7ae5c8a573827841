// Package validate wraps go-playground/validator with English messages keyed by
// JSON field name, the shape the console renders as inline form errors.
package validate

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const (
	bandTag  = "band"
	bandText = "{0} must be a band between 0 and 9 in steps of 0.5"

	requiredText = "{0} is required"
)

// FieldErrors maps a JSON field path (e.g. "sections[1].title") to a message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fe[k])
	}
	return strings.Join(parts, "; ")
}

// Prefixed nests every key under prefix, e.g. "answer_key" becomes
// "questions[2].answer_key".
func (fe FieldErrors) Prefixed(prefix string) FieldErrors {
	out := make(FieldErrors, len(fe))
	for k, v := range fe {
		out[prefix+"."+k] = v
	}
	return out
}

// Merge copies src into fe.
func (fe FieldErrors) Merge(src FieldErrors) {
	for k, v := range src {
		fe[k] = v
	}
}

// AsFieldErrors returns the field errors carried by err, if any.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

var (
	once     sync.Once
	instance *validator.Validate
	trans    ut.Translator
)

func engine() (*validator.Validate, ut.Translator) {
	once.Do(func() {
		locale := en.New()
		uni := ut.New(locale, locale)
		trans, _ = uni.GetTranslator("en")

		instance = validator.New()
		_ = en_translations.RegisterDefaultTranslations(instance, trans)

		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		_ = instance.RegisterValidation(bandTag, bandValidation)
		registerTranslation(instance, trans, bandTag, bandText, false)
		registerTranslation(instance, trans, "required", requiredText, true)
	})
	return instance, trans
}

func registerTranslation(v *validator.Validate, t ut.Translator, tag, text string, override bool) {
	_ = v.RegisterTranslation(
		tag, t,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Struct validates s and returns FieldErrors, or nil when s is valid.
func Struct(s interface{}) error {
	v, t := engine()
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe.Namespace())] = fe.Translate(t)
	}
	return out
}

// IsInvalid reports whether err carries field errors from Struct.
func IsInvalid(err error) bool {
	var fe FieldErrors
	return errors.As(err, &fe)
}

// fieldPath drops the struct name prefix validator puts in front of the namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// IsBand reports whether v is a valid IELTS band (0-9 in half steps).
func IsBand(v float64) bool {
	if v < 0 || v > 9 {
		return false
	}
	return math.Mod(v*2, 1) == 0
}

func bandValidation(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		return IsBand(f.Float())
	case reflect.Ptr:
		if f.IsNil() {
			return true
		}
		return IsBand(f.Elem().Float())
	}
	return false
}
