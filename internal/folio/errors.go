package folio

import (
	"errors"
	"strings"
)

var (
	// ErrNoActiveTimer means the folio has no live payment timer: it expired,
	// was already paid or validated, or never existed.
	ErrNoActiveTimer = errors.New("folio: no active timer")
	// ErrInvalidFolio is returned by Override for folios outside the override prefix.
	ErrInvalidFolio = errors.New("folio: invalid folio")
	// ErrAmbiguous is matched by *AmbiguousError.
	ErrAmbiguous = errors.New("folio: several active folios")
	ErrNotFound  = errors.New("folio: not found")
)

// AmbiguousError lists the owner's active folios when a receipt could belong
// to more than one of them.
type AmbiguousError struct {
	Folios []string
}

func (e *AmbiguousError) Error() string {
	return "folio: several active folios: " + strings.Join(e.Folios, ", ")
}

func (e *AmbiguousError) Is(target error) bool { return target == ErrAmbiguous }
