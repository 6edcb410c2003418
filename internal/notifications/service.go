package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"talkreel/internal/config"
)

const userAgent = "talkreel/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventTaskCompleted Event = "task_completed"
	EventTaskFailed    Event = "task_failed"
	EventTaskDegraded  Event = "task_degraded"
	EventTest          Event = "test"
)

// Payload carries the values an event message is built from. Known keys:
// taskID, kind, message, result, degraded.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := config.Seconds(cfg.Notifications.RequestTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.TaskCompleted,
		failed:    cfg.Notifications.TaskFailed,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	failed    bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	taskID := payloadString(payload, "taskID")
	kind := payloadString(payload, "kind")
	if kind == "" {
		kind = "job"
	}
	switch event {
	case EventTaskCompleted, EventTaskDegraded:
		if !n.completed {
			return message{}, false
		}
		body := fmt.Sprintf("✅ %s %s finished", kind, taskID)
		if result := payloadString(payload, "result"); result != "" {
			body += "\n" + result
		}
		msg := message{
			title: "talkreel - Task Complete",
			body:  body,
			tags:  []string{"talkreel", kind, "completed"},
		}
		if event == EventTaskDegraded {
			msg.title = "talkreel - Task Complete (degraded)"
			msg.body += "\nDegraded: " + payloadString(payload, "degraded")
			msg.tags = []string{"talkreel", kind, "degraded"}
		}
		return msg, true
	case EventTaskFailed:
		if !n.failed {
			return message{}, false
		}
		reason := payloadString(payload, "message")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "talkreel - Task Failed",
			body:     fmt.Sprintf("❌ %s %s failed: %s", kind, taskID, reason),
			tags:     []string{"talkreel", kind, "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "talkreel - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"talkreel", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func payloadString(p Payload, key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
