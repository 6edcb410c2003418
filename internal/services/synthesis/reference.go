package synthesis

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"talkreel/internal/fileutil"
	"talkreel/internal/services"
)

// ReferenceSource records where a reference sample came from.
type ReferenceSource string

const (
	SourceRequest ReferenceSource = "request"
	SourceDefault ReferenceSource = "default"
	SourceCopied  ReferenceSource = "copied_input"
)

// Reference is a resolved voice sample.
type Reference struct {
	Path   string
	Source ReferenceSource
}

var audioPatterns = []string{"*.wav", "*.mp3", "*.webm", "*.m4a", "*.ogg", "*.flac"}

// ResolveReference picks the voice sample for synthesis. A requested path
// that exists wins. Otherwise the configured default is used; when the
// default is configured but missing, latestInput is copied into its place.
// With nothing usable it returns a services.ErrNotFound.
func ResolveReference(requested, defaultRef, latestInput string) (Reference, error) {
	if requested = strings.TrimSpace(requested); requested != "" {
		ok, err := fileutil.NonEmpty(requested)
		if err != nil {
			return Reference{}, services.Wrap(services.ErrNotFound, "synthesis", "resolve reference", requested, err)
		}
		if ok {
			return Reference{Path: absolute(requested), Source: SourceRequest}, nil
		}
	}

	defaultRef = strings.TrimSpace(defaultRef)
	if defaultRef == "" {
		return Reference{}, services.Wrap(services.ErrNotFound, "synthesis", "resolve reference", "no reference audio supplied and no default configured", nil)
	}
	if ok, _ := fileutil.NonEmpty(defaultRef); ok {
		return Reference{Path: absolute(defaultRef), Source: SourceDefault}, nil
	}

	latestInput = strings.TrimSpace(latestInput)
	if latestInput == "" {
		return Reference{}, services.Wrap(services.ErrNotFound, "synthesis", "resolve reference", "default reference "+defaultRef+" is missing and no input audio exists to seed it", nil)
	}
	if ok, _ := fileutil.NonEmpty(latestInput); !ok {
		return Reference{}, services.Wrap(services.ErrNotFound, "synthesis", "resolve reference", "input audio "+latestInput+" is missing", nil)
	}
	if err := fileutil.PublishFile(latestInput, defaultRef); err != nil {
		return Reference{}, services.Wrap(services.ErrNotFound, "synthesis", "seed default reference", defaultRef, err)
	}
	return Reference{Path: absolute(defaultRef), Source: SourceCopied}, nil
}

// LatestInput returns the most recently modified audio file directly under
// dir, or "" when there is none.
func LatestInput(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	var (
		newest     string
		newestTime time.Time
	)
	for _, pattern := range audioPatterns {
		path, err := fileutil.NewestFile(dir, pattern, false, time.Time{})
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return ""
			}
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest, newestTime = path, info.ModTime()
		}
	}
	return newest
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
