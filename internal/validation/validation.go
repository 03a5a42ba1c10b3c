// Package validation checks structured request input against declared
// schemas. Validation never short-circuits: every violated field is
// reported, in schema declaration order, so repeated validation of the
// same input yields an identical details list.
package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prodapi/userserver/types"
)

// FieldError describes a single schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json tag names instead of Go field names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// UserID validates a raw path parameter as a positive integer user id.
func UserID(raw string) (int, []FieldError) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id < 1 {
		return 0, []FieldError{{Field: "id", Message: "id must be a positive integer"}}
	}
	return id, nil
}

type userUpdateSchema struct {
	Name     *string `json:"name" validate:"omitnil,min=2,max=255"`
	Email    *string `json:"email" validate:"omitnil,email,max=255"`
	Password *string `json:"password" validate:"omitnil,min=8,max=128"`
	Role     *string `json:"role" validate:"omitnil,oneof=admin user"`
}

// UserUpdate decodes and validates a partial-update body. All fields are
// optional; an empty object is a valid (no-op) update. Unknown fields are
// dropped. Email is normalized to trimmed lower-case, name is trimmed,
// before constraints are checked.
func UserUpdate(body io.Reader) (types.UserUpdate, []FieldError) {
	var schema userUpdateSchema
	if err := json.NewDecoder(body).Decode(&schema); err != nil {
		return types.UserUpdate{}, []FieldError{{Field: "body", Message: "body must be valid JSON"}}
	}

	if schema.Name != nil {
		trimmed := strings.TrimSpace(*schema.Name)
		schema.Name = &trimmed
	}
	if schema.Email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*schema.Email))
		schema.Email = &normalized
	}

	if err := validate.Struct(schema); err != nil {
		return types.UserUpdate{}, formatErrors(err)
	}

	return types.UserUpdate{
		Name:     schema.Name,
		Email:    schema.Email,
		Password: schema.Password,
		Role:     schema.Role,
	}, nil
}

// formatErrors converts validator failures into the stable external
// field/message shape. Ordering follows schema declaration order.
func formatErrors(err error) []FieldError {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "body", Message: "invalid request body"}}
	}

	fields := make([]FieldError, 0, len(errs))
	for _, fe := range errs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: messageFor(fe)})
	}
	return fields
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
