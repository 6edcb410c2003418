package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateDialogue(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateTraining(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.ArchiveRetentionDays < 0 {
		return errors.New("registry.archive_retention_days must not be negative")
	}
	return ensurePositiveMap(map[string]int{
		"registry.log_capacity":           c.Registry.LogCapacity,
		"registry.ttl_minutes":            c.Registry.TTLMinutes,
		"registry.capacity":               c.Registry.Capacity,
		"registry.sweep_interval_seconds": c.Registry.SweepIntervalSeconds,
	})
}

func (c *Config) validateTimeouts() error {
	return ensurePositiveMap(map[string]int{
		"recognition.timeout_seconds":       c.Recognition.TimeoutSeconds,
		"dialogue.timeout_seconds":          c.Dialogue.TimeoutSeconds,
		"synthesis.timeout_seconds":         c.Synthesis.TimeoutSeconds,
		"synthesis.startup_timeout_seconds": c.Synthesis.StartupTimeoutSeconds,
		"render.timeout_seconds":            c.Render.TimeoutSeconds,
		"training.timeout_seconds":          c.Training.TimeoutSeconds,
		"notifications.request_timeout":     c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateDialogue() error {
	if c.Dialogue.Retries <= 0 {
		return errors.New("dialogue.retries must be at least 1")
	}
	if c.Dialogue.MaxTokens <= 0 {
		return errors.New("dialogue.max_tokens must be positive")
	}
	if c.Dialogue.Temperature < 0 || c.Dialogue.Temperature > 2 {
		return errors.New("dialogue.temperature must be between 0 and 2")
	}
	if c.Dialogue.TopP <= 0 || c.Dialogue.TopP > 1 {
		return errors.New("dialogue.top_p must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	for key, raw := range map[string]string{
		"dialogue.base_url":  c.Dialogue.BaseURL,
		"synthesis.base_url": c.Synthesis.BaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
		}
	}
	return nil
}

func (c *Config) validateRender() error {
	switch c.Render.Mode {
	case RenderModeScript, RenderModeSession:
	default:
		return fmt.Errorf("render.mode must be %q or %q, got %q", RenderModeScript, RenderModeSession, c.Render.Mode)
	}
	if c.Render.Mode == RenderModeSession {
		if strings.TrimSpace(c.Session.Image) == "" {
			return errors.New("session.image must be set when render.mode is session")
		}
		if c.Session.MaxJobs <= 0 {
			return errors.New("session.max_jobs must be positive")
		}
	}
	if c.Session.ReadyGraceSeconds < 0 {
		return errors.New("session.ready_grace_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateTraining() error {
	if err := ensurePositiveMap(map[string]int{
		"training.max_steps":  c.Training.MaxSteps,
		"training.batch_size": c.Training.BatchSize,
	}); err != nil {
		return err
	}
	if c.Training.NumWorkers < 0 || c.Training.CheckpointInterval < 0 {
		return errors.New("training.num_workers and training.checkpoint_interval must not be negative")
	}
	if c.Training.LR < 0 || c.Training.MinLR < 0 {
		return errors.New("training learning rates must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
