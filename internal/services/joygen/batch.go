package joygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"talkreel/internal/fileutil"
	"talkreel/internal/logging"
	"talkreel/internal/services"
)

var videoExtensions = []string{".mp4", ".mov", ".avi"}

// BatchRequest describes a cross-sample synthesis run.
type BatchRequest struct {
	InputDir  string
	OutputDir string
	Pairs     int
}

// Clip is the outcome of one rendered clip.
type Clip struct {
	Name   string
	Visual string
	Audio  string
	Path   string
	Err    error
}

// PairRecord is one metadata.json entry.
type PairRecord struct {
	ID  int    `json:"id"`
	Vis string `json:"vis"`
	Aud string `json:"aud"`
}

// BatchResult summarizes a batch.
type BatchResult struct {
	Clips     []Clip
	Metadata  string
	Succeeded int
	Failed    int
}

// ValidVideos lists the reference videos directly under dir, sorted by name.
func ValidVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "batch", "list videos", dir, err)
	}
	var videos []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if slices.Contains(videoExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			videos = append(videos, entry.Name())
		}
	}
	slices.Sort(videos)
	return videos, nil
}

// Batch renders req.Pairs random pairs inside s. For each pair (A, B) it
// renders A's face with B's audio and B's face with A's audio. A failing
// clip is recorded and the batch moves on; onClip sees every clip as it
// finishes.
func (r *Renderer) Batch(ctx context.Context, s ChainRunner, req BatchRequest, rng *rand.Rand, onClip func(done, total int, clip Clip), onLine func(string)) (BatchResult, error) {
	if s == nil {
		return BatchResult{}, services.Wrap(services.ErrValidation, "batch", "run", "a worker session is required", nil)
	}
	if req.Pairs < 1 {
		return BatchResult{}, services.Wrap(services.ErrValidation, "batch", "run", "pairs must be at least 1", nil)
	}
	videos, err := ValidVideos(req.InputDir)
	if err != nil {
		return BatchResult{}, err
	}
	if len(videos) < 2 {
		return BatchResult{}, services.Wrap(services.ErrValidation, "batch", "run", fmt.Sprintf("need at least 2 videos in %s, found %d", req.InputDir, len(videos)), nil)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return BatchResult{}, services.Wrap(services.ErrConfiguration, "batch", "create output dir", req.OutputDir, err)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	logger := logging.WithContext(ctx, r.logger)
	total := req.Pairs * 2
	result := BatchResult{Clips: make([]Clip, 0, total)}
	metadata := make([]PairRecord, 0, req.Pairs)
	for i := 1; i <= req.Pairs; i++ {
		if err := ctx.Err(); err != nil {
			return result, services.Wrap(services.ErrTransient, "batch", "run", "interrupted", err)
		}
		pick := rng.Perm(len(videos))
		va, vb := videos[pick[0]], videos[pick[1]]
		jobs := []struct {
			name, visual, audio, tag string
		}{
			{fmt.Sprintf("pair_%03d_vA_aB.mp4", i), va, vb, fmt.Sprintf("%d_1", i)},
			{fmt.Sprintf("pair_%03d_vB_aA.mp4", i), vb, va, fmt.Sprintf("%d_2", i)},
		}
		for _, job := range jobs {
			clip := Clip{Name: job.name, Visual: job.visual, Audio: job.audio}
			artifact, err := r.renderInSession(ctx, s,
				filepath.Join(req.InputDir, job.visual),
				filepath.Join(req.InputDir, job.audio),
				job.tag, onLine)
			if err == nil {
				dest := filepath.Join(req.OutputDir, job.name)
				if err = fileutil.PublishFile(artifact, dest); err == nil {
					clip.Path = dest
				}
			}
			if err != nil {
				clip.Err = err
				result.Failed++
				logging.WarnWithContext(logger, "batch clip failed", "batch_clip_failed",
					logging.String(logging.FieldErrorHint, "inspect the chain output in the task log"),
					logging.String(logging.FieldImpact, "the batch continues without this clip"),
					logging.String("clip", job.name),
					logging.Error(err),
				)
			} else {
				result.Succeeded++
				logger.Info("batch clip rendered", logging.String("clip", job.name))
			}
			result.Clips = append(result.Clips, clip)
			if onClip != nil {
				onClip(len(result.Clips), total, clip)
			}
		}
		metadata = append(metadata, PairRecord{ID: i, Vis: va, Aud: vb})
	}

	path, err := writeMetadata(req.OutputDir, metadata)
	if err != nil {
		return result, err
	}
	result.Metadata = path
	return result, nil
}

func writeMetadata(dir string, records []PairRecord) (string, error) {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return "", services.Wrap(services.ErrRender, "batch", "encode metadata", "", err)
	}
	path := filepath.Join(dir, "metadata.json")
	if _, err := fileutil.WriteAtomic(path, bytes.NewReader(data)); err != nil {
		return "", services.Wrap(services.ErrRender, "batch", "write metadata", path, err)
	}
	return path, nil
}
