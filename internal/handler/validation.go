package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aman-churiwal/octra-faucet/internal/octra"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// FieldError is one entry of a 400 response's details list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RegisterValidators adds the octaddr tag to gin's validator and makes
// validation errors report JSON field names.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected validator engine")
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v.RegisterValidation("octaddr", func(fl validator.FieldLevel) bool {
		return octra.IsValidAddress(fl.Field().String())
	})
}

func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "body", Message: "malformed JSON body"}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "octaddr":
		return "must be an Octra address (oct followed by 44 base58 characters)"
	case "email":
		return "must be an email address"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
