package pipeline

import (
	"errors"
	"fmt"
)

// Stage names identify where in the pipeline an utterance failed. They are
// surfaced verbatim in terminal error results.
const (
	StageNormalize  = "normalize"
	StageSpeechGate = "speech_gate"
	StageTranscribe = "transcription"
	StageComplete   = "completion"
	StageSynthesize = "synthesis"
	StageDeliver    = "deliver"
)

// Sentinel errors for pipeline outcomes.
var (
	// ErrNoSpeech means the speech gate found no voice activity.
	ErrNoSpeech = errors.New("pipeline: no speech detected")

	// ErrSessionGone means the client disconnected before delivery.
	ErrSessionGone = errors.New("pipeline: session gone")
)

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline [%s]: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// failStage wraps an error with stage context.
func failStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
