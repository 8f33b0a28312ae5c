package rag

import (
	"errors"
	"fmt"
)

// Stage names a step of the answer pipeline.
type Stage string

// Pipeline stages, in order.
const (
	StageIdle         Stage = "idle"
	StageContextFetch Stage = "context_fetch"
	StagePromptBuild  Stage = "prompt_build"
	StageCacheCheck   Stage = "cache_check"
	StageCacheHit     Stage = "cache_hit"
	StageCacheMiss    Stage = "cache_miss"
	StageCreditCheck  Stage = "credit_check"
	StageProviderCall Stage = "provider_call"
	StageCreditDeduct Stage = "credit_deduct"
	StageCacheWrite   Stage = "cache_write"
	StageRespond      Stage = "respond"
	StageFailed       Stage = "failed"
)

// ErrEmptyQuery rejects a blank question.
var ErrEmptyQuery = errors.New("query is empty")

// StageError is the terminal error of a failed answer. Err keeps the typed
// cause (*credits.InsufficientCreditError, *llm.ProviderError,
// *llm.ProviderTimeoutError, ...) for errors.As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("rag %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage err failed at, or "" when err is not a
// *StageError.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
