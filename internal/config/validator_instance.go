package config

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	stepNamePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	identSegment     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	qualifiedPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// validatorInstance configures and returns the shared validator used across
// the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("step_name", func(fl validator.FieldLevel) bool {
			return stepNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("qualified_name", func(fl validator.FieldLevel) bool {
			return IsQualifiedName(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the configured validator instance for use outside the
// config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// IsQualifiedName reports whether every dot-separated segment of a
// class-name-like reference is a valid identifier.
func IsQualifiedName(name string) bool {
	return qualifiedPattern.MatchString(name)
}

// IsIdentifier reports whether a single segment is a valid identifier.
func IsIdentifier(segment string) bool {
	return identSegment.MatchString(segment)
}
