package extjob

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"talkreel/internal/fileutil"
	"talkreel/internal/services"
)

// Descriptor describes one out-of-process unit of work.
type Descriptor struct {
	// Name labels the job in logs and errors; defaults to the binary name.
	Name    string
	Binary  string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	// Locate finds the artifact the job produced. Nil means the exit status
	// alone decides success.
	Locate Locator
}

func (d Descriptor) name() string {
	if name := strings.TrimSpace(d.Name); name != "" {
		return name
	}
	return filepath.Base(d.Binary)
}

func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Binary) == "" {
		return services.Wrap(services.ErrValidation, "extjob", "run", "binary required", nil)
	}
	if d.Timeout < 0 {
		return services.Wrap(services.ErrValidation, "extjob", "run", "timeout must not be negative", nil)
	}
	return nil
}

// Outcome reports a finished job.
type Outcome struct {
	ExitCode int
	Artifact string
	// Output holds the last captured lines of combined stdout/stderr.
	Output   []string
	Duration time.Duration
}

// Locator finds the artifact a job produced. started is the time the job was
// launched so stale files from earlier runs can be ignored.
type Locator interface {
	Locate(started time.Time) (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(started time.Time) (string, error)

// Locate implements Locator.
func (f LocatorFunc) Locate(started time.Time) (string, error) { return f(started) }

// NewestMatch locates the most recently modified file under dir whose name
// matches pattern and that was written after the job started.
func NewestMatch(dir, pattern string, recursive bool) Locator {
	return LocatorFunc(func(started time.Time) (string, error) {
		notBefore := time.Time{}
		if !started.IsZero() {
			// Coarse filesystem timestamps can round a fresh file down.
			notBefore = started.Truncate(time.Second)
		}
		path, err := fileutil.NewestFile(dir, pattern, recursive, notBefore)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("%w: no %s under %s", ErrArtifactNotFound, pattern, dir)
			}
			return "", fmt.Errorf("%w: scan %s: %w", ErrArtifactNotFound, dir, err)
		}
		return path, nil
	})
}

// ExactFile locates a fixed path, succeeding only when it exists and is not
// empty.
func ExactFile(path string) Locator {
	return LocatorFunc(func(time.Time) (string, error) {
		ok, err := fileutil.NonEmpty(path)
		if err != nil || !ok {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return path, nil
	})
}
