package pipeline

import (
	"errors"
	"fmt"
)

// ErrAlreadyReinjected is returned when reinjecting a parked record twice.
var ErrAlreadyReinjected = errors.New("parked record already reinjected")

// StageError is a failure to route a work item after its stage ran, for
// example a queue or store fault. The delivery is nacked and redelivered.
type StageError struct {
	Stage    string
	RecordID string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("stage %s: %s (record=%s): %v", e.Stage, e.Op, e.RecordID, e.Err)
	}
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsStageError reports whether err is a routing failure.
// Uses errors.As to handle wrapped errors.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}
