package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	validatorv10 "github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 16

// Error is a rejected request body. Code is "invalid_request_body" or
// "validation_failed"; Fields maps JSON field names to the failed rule.
type Error struct {
	Code   string            `json:"error"`
	Msg    string            `json:"msg,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Code + ": " + e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Fields)
}

// DecodeAndValidate decodes a JSON body into out and validates it. Failures
// are returned as *Error.
func DecodeAndValidate(r io.Reader, out any, v *validatorv10.Validate) error {
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &Error{Code: "invalid_request_body", Msg: err.Error()}
	}
	if err := v.Struct(out); err != nil {
		return &Error{Code: "validation_failed", Fields: fieldErrors(err)}
	}
	return nil
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range ve {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[fe.Field()] = rule
	}
	return out
}
