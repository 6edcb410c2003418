package testsupport

import (
	"context"
	"testing"
	"time"

	"talkreel/internal/config"
	"talkreel/internal/taskstore"
	"talkreel/internal/tasks"
)

// MustOpenStore opens the task archive for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *taskstore.Store {
	t.Helper()

	store, err := taskstore.Open(cfg.ArchivePath())
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// FinishedTask builds a terminal task snapshot for archive and API tests.
func FinishedTask(id string, kind tasks.Kind, success bool, end time.Time) tasks.Task {
	status := tasks.StatusCompleted
	message := "done"
	if !success {
		status = tasks.StatusFailed
		message = "failed"
	}
	return tasks.Task{
		ID:          id,
		Kind:        kind,
		Status:      status,
		Progress:    100,
		CurrentStep: 3,
		TotalSteps:  3,
		Message:     message,
		Log:         []tasks.LogEntry{{Time: end, Message: message}},
		Details:     map[string]any{"result_kind": "audio"},
		StartTime:   end.Add(-time.Minute),
		EndTime:     end,
	}
}

// SaveTask archives task and fails the test on error.
func SaveTask(t testing.TB, store *taskstore.Store, task tasks.Task) {
	t.Helper()

	if err := store.Save(context.Background(), task); err != nil {
		t.Fatalf("store.Save: %v", err)
	}
}
