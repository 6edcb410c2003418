package pipeline

import (
	"fmt"
	"strings"

	"talkreel/internal/services"
	"talkreel/internal/tasks"
)

// Request is one job submission. Fields irrelevant to the kind are ignored.
type Request struct {
	Kind tasks.Kind
	// ID is optional; a random id is generated when empty.
	ID string

	// Dialogue input. Text wins over AudioPath.
	Text      string
	AudioPath string
	Language  string
	AudioOnly bool

	PersonaID            string
	CharacterName        string
	CharacterPersonality string
	RefAudio             string
	RefAudioText         string
	RefVideo             string
	ModelPath            string
	GPU                  string

	// Render input. AudioPath is used when Audio is empty.
	Audio string

	// Training input.
	Video     string
	MaxSteps  int
	BatchSize int

	// Batch input.
	InputDir  string
	OutputDir string
	Pairs     int
}

// ResultKind tells callers which artifact a job produced.
type ResultKind string

const (
	ResultVideo ResultKind = "video"
	ResultAudio ResultKind = "audio"
	ResultText  ResultKind = "text"
	ResultModel ResultKind = "model"
	ResultBatch ResultKind = "batch"
)

// Degradation records a stage that fell back instead of succeeding.
type Degradation struct {
	Stage  string
	Reason string
}

// Result is the composite outcome of a job.
type Result struct {
	Kind ResultKind
	// Path is the final artifact: video, audio, model directory, or batch
	// metadata file. Empty for text results.
	Path string
	// InputText is the recognized or submitted text of a dialogue job.
	InputText string
	Reply     string
	Degraded  []Degradation
}

// DegradedStage reports whether stage degraded.
func (r Result) DegradedStage(stage string) bool {
	for _, d := range r.Degraded {
		if d.Stage == stage {
			return true
		}
	}
	return false
}

func (r Result) details() map[string]any {
	details := map[string]any{
		"result_kind": string(r.Kind),
		"result_path": r.Path,
	}
	if r.InputText != "" {
		details["input_text"] = r.InputText
	}
	if r.Reply != "" {
		details["reply_text"] = r.Reply
	}
	if len(r.Degraded) > 0 {
		stages := make([]string, 0, len(r.Degraded))
		for _, d := range r.Degraded {
			stages = append(stages, d.Stage)
			details[d.Stage+"_degraded"] = d.Reason
		}
		details["degraded_stages"] = stages
	}
	return details
}

// Validate checks the fields the kind requires. File existence is checked
// when the job runs.
func (r *Request) Validate() error {
	r.Text = strings.TrimSpace(r.Text)
	r.AudioPath = strings.TrimSpace(r.AudioPath)
	if r.Kind == "" {
		r.Kind = tasks.KindDialogue
	}
	if !r.Kind.Valid() {
		return services.Wrap(services.ErrValidation, "submit", "validate", fmt.Sprintf("unknown job kind %q", r.Kind), nil)
	}
	missing := func(field string) error {
		return services.Wrap(services.ErrValidation, "submit", "validate", fmt.Sprintf("%s job requires %s", r.Kind, field), nil)
	}
	switch r.Kind {
	case tasks.KindDialogue:
		if r.Text == "" && r.AudioPath == "" {
			return missing("text or audio_path")
		}
	case tasks.KindRender:
		if strings.TrimSpace(r.Audio) == "" {
			r.Audio, r.AudioPath = r.AudioPath, ""
		}
		if strings.TrimSpace(r.Audio) == "" {
			return missing("audio_path")
		}
	case tasks.KindTraining:
		if strings.TrimSpace(r.Video) == "" {
			return missing("video_path")
		}
		if r.MaxSteps < 0 || r.BatchSize < 0 {
			return services.Wrap(services.ErrValidation, "submit", "validate", "max_steps and batch_size must not be negative", nil)
		}
	case tasks.KindBatch:
		if strings.TrimSpace(r.InputDir) == "" || strings.TrimSpace(r.OutputDir) == "" {
			return missing("input_dir and output_dir")
		}
		if r.Pairs < 1 {
			return services.Wrap(services.ErrValidation, "submit", "validate", "pairs must be at least 1", nil)
		}
	}
	return nil
}

// dialogueSteps counts the stages a dialogue job will run.
func (r Request) dialogueSteps() int {
	steps := 2
	if r.Text == "" {
		steps++
	}
	if !r.AudioOnly {
		steps++
	}
	return steps
}
