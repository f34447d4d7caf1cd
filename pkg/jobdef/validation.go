package jobdef

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/stepagent/pkg/builder"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Register custom validations
	_ = validate.RegisterValidation("runif", validateRunIf)
}

func validateRunIf(fl validator.FieldLevel) bool {
	_, err := builder.ParseRunCondition(fl.Field().String())
	return err == nil
}

// Validate checks a decoded job, including every step's cancel command.
func Validate(job *Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("job validation failed: %w", err)
	}
	for i, s := range job.Steps {
		if s.OnCancel == nil {
			continue
		}
		if err := validate.Struct(s.OnCancel); err != nil {
			return fmt.Errorf("step %d on_cancel: %w", i, err)
		}
	}
	return nil
}
