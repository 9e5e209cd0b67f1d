package domain

import "github.com/go-playground/validator/v10"

// validate is shared across every call per the validator docs' advice to
// construct one *validator.Validate and reuse it; grounded on
// _examples/william-yangbo-kongflow/backend/internal/services/email/email.go's
// validator field built once via validator.New() and invoked with
// .Struct(...).
var validate = validator.New()

// Validate checks s's `validate` struct tags, used by the action engine
// (internal/action/engine.go's Execute) right after LoadInvocation to
// catch a malformed Task/TaskAction/Action/Account row before any
// executor runs.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		if invalid, ok := err.(*validator.InvalidValidationError); ok {
			return invalid
		}
		for _, fe := range err.(validator.ValidationErrors) {
			return NewValidationError(fe.Field(), fe.Tag()+" validation failed for field "+fe.Field())
		}
	}
	return nil
}
