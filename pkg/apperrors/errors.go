package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNoScope       = errors.New("no database scope in context")
	ErrRunInProgress = errors.New("a pipeline run is already in progress")
	ErrUnknownStage  = errors.New("unknown pipeline stage")
)

// StageError reports a stage that aborted and was rolled back.
// Rows is the number of rows the stage had touched before failing, when known.
type StageError struct {
	Stage string
	Rows  int64
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d rows: %v", e.Stage, e.Rows, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
