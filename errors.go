package nutritionagent

import (
	"errors"
	"fmt"
)

var (
	ErrClassification = errors.New("could not understand input")
	ErrParse          = errors.New("could not parse foods")
	ErrStateConflict  = errors.New("conversation state changed concurrently")
	ErrLookupMiss     = errors.New("no nutrition data found")
	ErrProvider       = errors.New("nutrition provider error")
	ErrTranscription  = errors.New("could not read the attached media")
	ErrValidation     = errors.New("record rejected by food store")
)

type ErrorKind string

const (
	KindClassificationFailure ErrorKind = "classification_failure"
	KindParseFailure          ErrorKind = "parse_failure"
	KindStateInconsistency    ErrorKind = "state_inconsistency"
	KindTranscriptionFailure  ErrorKind = "transcription_failure"
	KindPersistence           ErrorKind = "persistence_validation"
)

// Stage names the turn state a failure or log entry belongs to.
type Stage string

const (
	StageTranscribing          Stage = "transcribing"
	StageClassifying           Stage = "classifying"
	StageParsing               Stage = "parsing"
	StageAwaitingClarification Stage = "awaiting_clarification"
	StageResolving             Stage = "resolving"
	StageMerging               Stage = "merging"
	StageDone                  Stage = "done"
)

// TurnError aborts a turn. Retryable errors are safe to resend unchanged.
type TurnError struct {
	Kind      ErrorKind
	Stage     Stage
	Retryable bool
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s while %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

func NewTurnError(kind ErrorKind, stage Stage, err error) *TurnError {
	return &TurnError{
		Kind:      kind,
		Stage:     stage,
		Retryable: kind == KindStateInconsistency || kind == KindParseFailure,
		Err:       err,
	}
}

// IsRetryable reports whether err is a turn failure the caller may retry.
func IsRetryable(err error) bool {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
