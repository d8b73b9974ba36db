package header

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ValidationError reports a malformed Header field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid header %s: %s", e.Field, e.Reason)
}

// OutOfDomainError is returned by the checked index/physical conversions
type OutOfDomainError struct {
	Index r3.Vec
	Size  [3]int
}

func (e *OutOfDomainError) Error() string {
	return fmt.Sprintf("index (%g, %g, %g) is outside domain of size %v", e.Index.X, e.Index.Y, e.Index.Z, e.Size)
}

// InvalidCodeError reports an anatomical code that is not a permutation of
// one letter from each of L/R, P/A and S/I.
type InvalidCodeError struct {
	Code string
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid anatomical code %q", e.Code)
}
