package daemon

import (
	"testing"

	"talkreel/internal/notifications"
	"talkreel/internal/tasks"
)

func TestCompletionEvent(t *testing.T) {
	tests := []struct {
		name     string
		task     tasks.Task
		want     notifications.Event
		degraded string
	}{
		{
			name: "completed",
			task: tasks.Task{ID: "a", Kind: tasks.KindRender, Status: tasks.StatusCompleted, Details: map[string]any{}},
			want: notifications.EventTaskCompleted,
		},
		{
			name: "degraded",
			task: tasks.Task{ID: "b", Kind: tasks.KindDialogue, Status: tasks.StatusCompleted, Details: map[string]any{
				"degraded_stages": []string{"dialogue", "synthesis"},
			}},
			want:     notifications.EventTaskDegraded,
			degraded: "dialogue, synthesis",
		},
		{
			name: "failed wins over degraded",
			task: tasks.Task{ID: "c", Kind: tasks.KindBatch, Status: tasks.StatusFailed, Details: map[string]any{
				"degraded_stages": []string{"batch"},
			}},
			want: notifications.EventTaskFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, payload := completionEvent(tt.task)
			if event != tt.want {
				t.Fatalf("event = %s, want %s", event, tt.want)
			}
			if payload["taskID"] != tt.task.ID {
				t.Fatalf("taskID = %v", payload["taskID"])
			}
			if tt.degraded != "" && payload["degraded"] != tt.degraded {
				t.Fatalf("degraded = %v, want %q", payload["degraded"], tt.degraded)
			}
		})
	}
}
