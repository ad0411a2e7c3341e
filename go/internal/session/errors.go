package session

import "errors"

var (
	ErrNameTooShort   = errors.New("name too short")
	ErrNameTooLong    = errors.New("name too long")
	ErrNameTaken      = errors.New("name taken")
	ErrNameInUse      = errors.New("name in use by another session")
	ErrInvalidSession = errors.New("invalid session")
)
