package fetcher

import (
	"errors"
	"fmt"

	"github.com/fiffu/feedrelay/lib/models"
)

type Kind = models.ErrorKind

const (
	Transient   = models.KindTransient
	ClientError = models.KindClientError
	ServerError = models.KindServerError
)

type Error struct {
	Kind   Kind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a fetch error, treating anything unrecognised as transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transient
}
