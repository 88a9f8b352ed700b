package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrUnknownUser        = errors.New("unknown username")
	ErrUsernameTaken      = errors.New("username is already registered")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidTier        = errors.New("invalid membership tier")
)

// ValidationError rejects registration input before anything is stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type registration struct {
	Username string `validate:"required"`
	Email    string `validate:"required,address"`
	Password string `validate:"required,min=6"`
}

// newValidator panics if the custom tags cannot be registered, the same way
// emailPattern fails at init.
func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("register address validation: %v", err))
	}
	return v
}

// validateRegistration reports the first failing field the way a signup form
// would show it.
func validateRegistration(v *validator.Validate, r registration) error {
	if strings.TrimSpace(r.Password) == "" {
		r.Password = ""
	}
	err := v.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	// Blank fields win over format problems.
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return &ValidationError{Field: fe.Field(), Message: "Please fill in all fields"}
		}
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Email":
		return &ValidationError{Field: fe.Field(), Message: "Please enter a valid email address"}
	case "Password":
		return &ValidationError{Field: fe.Field(), Message: "Password must be at least 6 characters"}
	}
	return &ValidationError{Field: fe.Field(), Message: "Invalid " + strings.ToLower(fe.Field())}
}
