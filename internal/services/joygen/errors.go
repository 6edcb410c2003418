package joygen

import (
	"errors"
	"fmt"

	"talkreel/internal/extjob"
	"talkreel/internal/services"
)

var (
	// ErrToolExitNonZero means the JoyGen script or a chain step failed or
	// timed out. The captured tool output is part of the wrapped error.
	ErrToolExitNonZero = fmt.Errorf("%w: joygen exited non-zero", services.ErrRender)
	// ErrArtifactNotFound means JoyGen exited cleanly but left no video.
	ErrArtifactNotFound = fmt.Errorf("%w: rendered video not found", services.ErrRender)
	// ErrTrainingFailed means the training script failed.
	ErrTrainingFailed = fmt.Errorf("%w: joygen training failed", services.ErrExternalTool)
)

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, extjob.ErrArtifactNotFound):
		return fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrRender):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrToolExitNonZero, err)
	}
}
