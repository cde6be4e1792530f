// Package validator registers the custom binding tags used by request DTOs
// and turns binding failures into stable error codes.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/model"
)

var promptVersionPattern = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)

var registerOnce sync.Once

// Register installs the custom tags on gin's shared validator engine.
// Safe to call more than once.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("binding validator is not go-playground/validator")
	}
	var err error
	registerOnce.Do(func() {
		err = RegisterOn(v)
	})
	return err
}

func RegisterOn(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form", "header"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
	if err := v.RegisterValidation("cefr", func(fl validator.FieldLevel) bool {
		return model.Level(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	if err := v.RegisterValidation("prompt_version", func(fl validator.FieldLevel) bool {
		return promptVersionPattern.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Translate maps a binding error onto the API error codes.
func Translate(err error) *apperr.Error {
	if err == nil {
		return nil
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		verrs     validator.ValidationErrors
	)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &syntaxErr):
		return apperr.Validation(apperr.CodeInvalidJSON, "Request body is not valid JSON")
	case errors.As(err, &typeErr):
		return apperr.Validation(apperr.CodeInvalidJSON, fmt.Sprintf("%s has the wrong type", typeErr.Field))
	case errors.As(err, &verrs) && len(verrs) > 0:
		return translateField(verrs[0])
	default:
		return apperr.Validation(apperr.CodeValidation, err.Error())
	}
}

func translateField(fe validator.FieldError) *apperr.Error {
	field := fe.Field()
	switch {
	case field == "words" && fe.Tag() == "max":
		return apperr.BusinessRule(apperr.CodeTooManyWords, "Too many words in one request")
	case field == "words" && (fe.Tag() == "min" || fe.Tag() == "required"):
		return apperr.BusinessRule(apperr.CodeNoWords, "At least one word is required")
	case fe.Tag() == "required":
		return apperr.Validation(apperr.CodeMissingFields, fmt.Sprintf("%s is required", field))
	case fe.Tag() == "cefr":
		return apperr.Validation(apperr.CodeInvalidCEFRLevel, "level must be one of A1, A2, B1, B2, C1, C2")
	case field == "temperature":
		return apperr.Validation(apperr.CodeInvalidTemperature, "temperature must be between 0 and 2")
	case field == "prompt_version":
		return apperr.Validation(apperr.CodeInvalidPromptVersion, "prompt_version must look like v1.0.0")
	default:
		return apperr.Validation(apperr.CodeValidation, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
	}
}
