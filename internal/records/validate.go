package records

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Validator checks struct tags and reports failures keyed by JSON field name.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

// NewValidator builds a Validator with English messages.
func NewValidator() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, trans)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		fieldTag := fld.Tag.Get("json")
		if fieldTag == "" || fieldTag == "-" {
			return fld.Name
		}
		return strings.Split(fieldTag, ",")[0]
	})

	_ = validate.RegisterTranslation("required", trans, func(ut ut.Translator) error {
		return ut.Add("required", "{0} is a required field", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("required", fe.Field())
		return t
	})

	return &Validator{validate: validate, trans: trans}
}

// Struct validates v and returns a *ValidationError, or nil.
func (v *Validator) Struct(val any) error {
	err := v.validate.Struct(val)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewValidationError("_", err.Error())
	}
	out := &ValidationError{}
	for _, entry := range fieldErrs {
		out.Add(entry.Field(), entry.Translate(v.trans))
	}
	return out
}

// Var validates a single value against tag, reporting failures under field.
func (v *Validator) Var(field string, val any, tag string) error {
	err := v.validate.Var(val, tag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		msg := strings.TrimSpace(strings.Replace(fieldErrs[0].Translate(v.trans), fieldErrs[0].Field(), field, 1))
		return NewValidationError(field, msg)
	}
	return NewValidationError(field, err.Error())
}
