package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInput          = errors.New("input error")
	ErrWorkspace      = errors.New("workspace error")
	ErrStageExecution = errors.New("stage execution error")
	ErrGateEvaluation = errors.New("gate evaluation error")
	ErrTranslation    = errors.New("translation error")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrExternalTool   = errors.New("external tool error")
	ErrTransient      = errors.New("transient failure")
)

// Kind names the error taxonomy bucket an error belongs to.
type Kind string

const (
	KindNone           Kind = ""
	KindInput          Kind = "input"
	KindWorkspace      Kind = "workspace"
	KindStageExecution Kind = "stage_execution"
	KindGateEvaluation Kind = "gate_evaluation"
	KindTranslation    Kind = "translation"
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindCanceled       Kind = "canceled"
	KindUnknown        Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto its taxonomy kind. Markers are checked from the
// most specific to the most general so a translation failure caused by a
// transient transport error still reports as translation.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case isCanceled(err):
		return KindCanceled
	case errors.Is(err, ErrInput):
		return KindInput
	case errors.Is(err, ErrWorkspace):
		return KindWorkspace
	case errors.Is(err, ErrTranslation):
		return KindTranslation
	case errors.Is(err, ErrGateEvaluation):
		return KindGateEvaluation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrStageExecution), errors.Is(err, ErrExternalTool):
		return KindStageExecution
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return KindValidation
	default:
		return KindUnknown
	}
}

// Fatal reports whether err should abort a run before its source-language
// output exists. Translation failures happen after that output is written.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) != KindTranslation
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
