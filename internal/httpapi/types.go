package httpapi

import (
	"math"
	"strings"
	"time"

	"talkreel/internal/personas"
	"talkreel/internal/pipeline"
	"talkreel/internal/tasks"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// JobRequest is the submission body of POST /api/jobs.
type JobRequest struct {
	Kind                 string `json:"kind"`
	Text                 string `json:"text"`
	AudioPath            string `json:"audio_path"`
	Language             string `json:"language"`
	AudioOnly            bool   `json:"audio_only"`
	PersonaID            string `json:"persona_id"`
	CharacterName        string `json:"character_name"`
	CharacterPersonality string `json:"character_personality"`
	RefAudio             string `json:"ref_audio"`
	RefAudioText         string `json:"ref_audio_text"`
	RefVideo             string `json:"ref_video"`
	ModelPath            string `json:"model_path"`
	GPU                  string `json:"gpu"`
	// Audio is accepted as an alias of AudioPath for render jobs.
	Audio     string `json:"audio"`
	VideoPath string `json:"video_path"`
	MaxSteps  int    `json:"max_steps"`
	BatchSize int    `json:"batch_size"`
	InputDir  string `json:"input_dir"`
	OutputDir string `json:"output_dir"`
	Pairs     int    `json:"pairs"`
}

// PipelineRequest converts the body into an orchestrator request.
func (j JobRequest) PipelineRequest() pipeline.Request {
	audioPath, audio := j.AudioPath, j.Audio
	if tasks.Kind(j.Kind) == tasks.KindRender {
		if strings.TrimSpace(audio) == "" {
			audio = audioPath
		}
		audioPath = ""
	}
	return pipeline.Request{
		Kind:                 tasks.Kind(j.Kind),
		Text:                 j.Text,
		AudioPath:            audioPath,
		Language:             j.Language,
		AudioOnly:            j.AudioOnly,
		PersonaID:            j.PersonaID,
		CharacterName:        j.CharacterName,
		CharacterPersonality: j.CharacterPersonality,
		RefAudio:             j.RefAudio,
		RefAudioText:         j.RefAudioText,
		RefVideo:             j.RefVideo,
		ModelPath:            j.ModelPath,
		GPU:                  j.GPU,
		Audio:                audio,
		Video:                j.VideoPath,
		MaxSteps:             j.MaxSteps,
		BatchSize:            j.BatchSize,
		InputDir:             j.InputDir,
		OutputDir:            j.OutputDir,
		Pairs:                j.Pairs,
	}
}

// SubmitResponse acknowledges an accepted job.
type SubmitResponse struct {
	Status  string `json:"status"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// ErrorResponse is the stable failure shape.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// TaskView is the wire form of a task snapshot.
type TaskView struct {
	ID          string           `json:"id"`
	Kind        tasks.Kind       `json:"kind"`
	Status      tasks.Status     `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep int              `json:"currentStep"`
	TotalSteps  int              `json:"totalSteps"`
	Message     string           `json:"message"`
	Details     map[string]any   `json:"details"`
	ElapsedTime float64          `json:"elapsedTime"`
	Log         []tasks.LogEntry `json:"log"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	Archived    bool             `json:"archived,omitempty"`
}

// NewTaskView converts a snapshot; elapsed time is in seconds.
func NewTaskView(t tasks.Task, now time.Time) TaskView {
	view := TaskView{
		ID:          t.ID,
		Kind:        t.Kind,
		Status:      t.Status,
		Progress:    t.Progress,
		CurrentStep: t.CurrentStep,
		TotalSteps:  t.TotalSteps,
		Message:     t.Message,
		Details:     t.Details,
		ElapsedTime: math.Round(t.Elapsed(now).Seconds()*10) / 10,
		Log:         t.Log,
		StartTime:   t.StartTime,
	}
	if view.Details == nil {
		view.Details = map[string]any{}
	}
	if view.Log == nil {
		view.Log = []tasks.LogEntry{}
	}
	if !t.EndTime.IsZero() {
		end := t.EndTime
		view.EndTime = &end
	}
	return view
}

// ProgressResponse answers GET /api/progress/{taskID}.
type ProgressResponse struct {
	Status string   `json:"status"`
	Task   TaskView `json:"task"`
}

// TaskListResponse answers GET /api/tasks.
type TaskListResponse struct {
	Status string         `json:"status"`
	Counts map[string]int `json:"counts"`
	Tasks  []TaskView     `json:"tasks"`
}

// PersonaResponse answers GET /api/personas.
type PersonaResponse struct {
	Status  string            `json:"status"`
	Catalog *personas.Catalog `json:"catalog"`
}

// DependencyStatus reports one external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Blocking reports a required tool that could not be found.
func (d DependencyStatus) Blocking() bool { return !d.Available && !d.Optional }

// CheckResult reports one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus answers GET /api/status.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	LockPath     string             `json:"lock_path"`
	ArchivePath  string             `json:"archive_path,omitempty"`
	RenderMode   string             `json:"render_mode"`
	Session      string             `json:"session,omitempty"`
	Tasks        map[string]int     `json:"tasks"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []CheckResult      `json:"checks"`
}

// StatusResponse wraps DaemonStatus in the envelope.
type StatusResponse struct {
	Status string       `json:"status"`
	Daemon DaemonStatus `json:"daemon"`
}
