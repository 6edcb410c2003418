package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("resource not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")

	ErrDuplicateTask = errors.New("duplicate task")
	ErrTaskNotFound  = errors.New("task not found")
	ErrSessionStart  = errors.New("session start failed")

	ErrRecognition = errors.New("recognition failed")
	ErrDialogue    = errors.New("dialogue service error")
	ErrSynthesis   = errors.New("synthesis failed")
	ErrRender      = errors.New("render failed")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above or an error derived from one.
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

// Details splits an error into a caller-facing message and an operator hint.
// The message never includes Go type names; the hint points at the most
// likely remedy for the marker class.
func Details(err error) (message, hint string) {
	if err == nil {
		return "", ""
	}
	message = strings.TrimSpace(err.Error())
	switch {
	case errors.Is(err, ErrTaskNotFound):
		hint = "the task id is unknown or has expired"
	case errors.Is(err, ErrDuplicateTask):
		hint = "task ids must be unique; omit the id to generate one"
	case errors.Is(err, ErrValidation):
		hint = "check the request fields"
	case errors.Is(err, ErrConfiguration):
		hint = "check the configuration file and persona catalog"
	case errors.Is(err, ErrSessionStart):
		hint = "check that docker is running and the worker image exists"
	case errors.Is(err, ErrNotFound):
		hint = "check that the referenced file exists"
	case errors.Is(err, ErrTimeout):
		hint = "the external service did not answer in time"
	case errors.Is(err, ErrRecognition):
		hint = "record clearer audio or submit text directly"
	case errors.Is(err, ErrExternalTool):
		hint = "inspect the captured tool output in the task log"
	default:
		hint = "check daemon logs for details"
	}
	return message, hint
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
