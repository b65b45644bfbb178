package services

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	minPasswordLen = 3
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

// SignupInput is the registration request.
type SignupInput struct {
	UserName string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in SignupInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.UserName, validation.Required, validation.Length(1, 50)),
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, passwordRules...),
	)
}

var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(minPasswordLen, maxPasswordBytes),
	validation.By(func(v interface{}) error {
		if s, _ := v.(string); len(s) > maxPasswordBytes {
			return errors.New("must be at most 72 bytes long")
		}
		return nil
	}),
}

func validatePassword(p string) error {
	return validation.Validate(p, passwordRules...)
}
