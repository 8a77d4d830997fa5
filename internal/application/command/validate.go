package command

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// validate is shared by all commands. Field names in errors are the JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", notBlank)
	return v
}

func notBlank(fl validator.FieldLevel) bool {
	if s, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return false
}

// fieldMessage maps a top-level request field to the message reported when it is invalid.
type fieldMessage struct {
	field   string
	message string
}

// validateCommand runs struct validation and reports the first failing field
// in priority order, using the caller-facing message for that field.
func validateCommand(cmd any, op string, priority []fieldMessage) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError("journey", op, shared.ErrValidation, "invalid request", err)
	}

	failed := make(map[string]validator.FieldError, len(verrs))
	for _, fe := range verrs {
		failed[topLevelField(fe.Namespace())] = fe
	}

	for _, p := range priority {
		if _, ok := failed[p.field]; ok {
			return shared.NewDomainError("journey", op, shared.ErrValidation, p.message)
		}
	}

	fe := verrs[0]
	return shared.NewDomainError("journey", op, shared.ErrValidation,
		fmt.Sprintf("Invalid value for field: %s", topLevelField(fe.Namespace())))
}

// topLevelField returns "contact" for "TrackInteractionCommand.contact.id".
func topLevelField(namespace string) string {
	parts := strings.SplitN(namespace, ".", 3)
	if len(parts) < 2 {
		return namespace
	}
	return parts[1]
}

// validationMessage extracts the caller-facing message from a validation error.
func validationMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
