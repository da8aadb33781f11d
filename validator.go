package testid

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator interface {
	ValidatePath(path string) error
	ValidateConfig(config *Config) error
}

type DefaultValidator struct {
	validate *validator.Validate
}

func NewDefaultValidator() *DefaultValidator {
	validate := validator.New()

	// Report fields by their config file name.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	rules := map[string]validator.Func{
		"attrname": validateAttributeName,
		"idsuffix": validateIDSuffix,
		"glob":     validateGlob,
	}
	for tag, fn := range rules {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %q validation: %v", tag, err))
		}
	}

	return &DefaultValidator{validate: validate}
}

func (v *DefaultValidator) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal")
		}
	}

	return nil
}

func (v *DefaultValidator) ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	err := v.validate.Struct(config)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	// The first failure is enough for the user to act on.
	fe := fieldErrors[0]
	value, _ := fe.Value().(string)
	blank := strings.TrimSpace(value) == ""

	switch fe.Tag() {
	case "attrname":
		if blank {
			return fmt.Errorf("%s cannot be empty", fe.Field())
		}
		return fmt.Errorf("%s %q contains characters not allowed in an attribute name", fe.Field(), value)
	case "idsuffix":
		if blank {
			return fmt.Errorf("%s cannot be empty", fe.Field())
		}
		return fmt.Errorf("%s %q contains quote or angle bracket characters", fe.Field(), value)
	case "glob":
		return fmt.Errorf("invalid excludePatterns entry %q: %w", value, filepath.ErrBadPattern)
	default:
		return fmt.Errorf("invalid %s: failed %q check", fe.Namespace(), fe.Tag())
	}
}

// validateAttributeName accepts a non-blank name that cannot end the
// attribute early or break out of the tag.
func validateAttributeName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return strings.TrimSpace(name) != "" && !strings.ContainsAny(name, " \t\r\n=\"'<>/")
}

func validateIDSuffix(fl validator.FieldLevel) bool {
	suffix := fl.Field().String()
	return strings.TrimSpace(suffix) != "" && !strings.ContainsAny(suffix, "\"'<>")
}

func validateGlob(fl validator.FieldLevel) bool {
	_, err := filepath.Match(fl.Field().String(), "")
	return err == nil
}
