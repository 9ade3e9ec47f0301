// Package validator wraps go-playground/validator with the request rules
// used by the payout and contributor endpoints.
package validator

import (
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var msisdnPattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

var operators = map[string]bool{
	"MPESA":        true,
	"AIRTEL_MONEY": true,
	"MTN_MOMO":     true,
	"ORANGE_MONEY": true,
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for API responses.
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "email":
					msg = "Invalid email address"
				case "max":
					msg = fmt.Sprintf("Must be at most %s", e.Param())
				case "gt":
					msg = fmt.Sprintf("Must be greater than %s", e.Param())
				case "msisdn":
					msg = "Invalid phone number format (E.164 required)"
				case "operator":
					msg = "Unsupported mobile money operator"
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v *Validator) registerCustomValidations() {
	// decimal.Decimal is compared as float64 for gt/lt/gte checks
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := val.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})

	_ = v.validate.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
		return operators[strings.ToUpper(strings.TrimSpace(fl.Field().String()))]
	})
}

// ValidPhone reports whether phone is an E.164 mobile number.
func ValidPhone(phone string) bool {
	return msisdnPattern.MatchString(strings.TrimSpace(phone))
}

// Sanitize cleans string input to prevent XSS attacks
func Sanitize(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}
