package oxidb

import (
	"errors"
	"fmt"
)

// ErrBroken is returned once a request was interrupted mid-frame; the connection
// cannot be reused and must be replaced.
var ErrBroken = errors.New("oxidb: connection broken")

// Error is returned when the OxiDB server returns an error response.
type Error struct {
	Cmd string
	Msg string
}

func (e *Error) Error() string {
	if e.Cmd == "" {
		return fmt.Sprintf("oxidb: %s", e.Msg)
	}
	return fmt.Sprintf("oxidb: %s: %s", e.Cmd, e.Msg)
}

// DuplicateKeyError is returned when an insert or update violates a unique index.
type DuplicateKeyError struct {
	Msg string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("oxidb: duplicate key: %s", e.Msg)
}

// IsDuplicateKey reports whether err is a unique-index violation.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}
