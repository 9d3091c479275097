package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

type depositRequest struct {
	AmountWei string `json:"amountWei" validate:"required,numeric"`
}

type executeRequest struct {
	Caller string `json:"caller" validate:"required,oneof=owner depositor beneficiary"`
}

type oracleRequest struct {
	Value string `json:"value" validate:"required,max=32"`
}

type payloadValidator struct {
	v *validator.Validate
}

func newPayloadValidator() *payloadValidator {
	v := validator.New()
	// report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &payloadValidator{v: v}
}

// decode unmarshals body into dst and validates it. The error text is safe
// to return to clients.
func (p *payloadValidator) decode(body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid json payload")
	}
	err := p.v.Struct(dst)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "numeric":
		return fmt.Sprintf("%s must be a number", e.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}
