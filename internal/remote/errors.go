package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound reports that the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Error describes a failed document store call.
type Error struct {
	Op         string
	Collection string
	Status     int
	Err        error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %s %s: status %d: %v", e.Op, e.Collection, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied reports whether err is a remote authorization failure.
// List reads treat this as an empty result rather than a hard failure.
func IsPermissionDenied(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Status == http.StatusForbidden || re.Status == http.StatusUnauthorized
	}
	return false
}
