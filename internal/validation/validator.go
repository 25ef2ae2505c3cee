// Package validation decodes and validates inbound request bodies with
// go-playground/validator.
package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// New returns a validator that reports fields by their JSON names and knows
// the "ident" tag for path-safe identifiers.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("ident", func(fl validatorv10.FieldLevel) bool {
		return identRe.MatchString(fl.Field().String())
	})
	return v
}
