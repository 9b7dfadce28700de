package validators

import "errors"

var (
	ErrPasswordEmpty   = errors.New("no password provided")
	ErrPasswordTooLong = errors.New("password is too long")
)

// maxPasswordSize bounds the input handed to argon2 on public endpoints.
const maxPasswordSize = 255

// LinkPasswordValidator checks a password submitted for a protected link
// before it is hashed and compared.
func LinkPasswordValidator(p string) error {
	if p == "" {
		return ErrPasswordEmpty
	}

	if len(p) > maxPasswordSize {
		return ErrPasswordTooLong
	}

	return nil
}
