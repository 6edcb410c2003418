package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"talkreel/internal/config"
	"talkreel/internal/daemon"
	"talkreel/internal/extjob"
	"talkreel/internal/httpapi"
	"talkreel/internal/logging"
	"talkreel/internal/notifications"
	"talkreel/internal/preflight"
	"talkreel/internal/services"
	"talkreel/internal/tasks"
	"talkreel/internal/testsupport"
)

type exitStatus int

func (e exitStatus) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitStatus) ExitCode() int { return int(e) }

type fakeDocker struct {
	mu     sync.Mutex
	verbs  []string
	runErr error
}

func (f *fakeDocker) Run(_ context.Context, cmd extjob.Command, _ func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(cmd.Args) == 0 {
		return nil
	}
	f.verbs = append(f.verbs, cmd.Args[0])
	if cmd.Args[0] == "run" {
		return f.runErr
	}
	return nil
}

func (f *fakeDocker) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.verbs...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
	// gate, when set, holds every Publish until it is closed.
	gate chan struct{}
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

func (r *recordingNotifier) snapshot() ([]notifications.Event, notifications.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...), r.last
}

func (r *recordingNotifier) waitFor(t *testing.T, n int) ([]notifications.Event, notifications.Payload) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if events, payload := r.snapshot(); len(events) >= n {
			return events, payload
		}
		time.Sleep(10 * time.Millisecond)
	}
	events, _ := r.snapshot()
	t.Fatalf("expected %d notifications, have %v", n, events)
	return nil, nil
}

func passingChecks(context.Context, *config.Config) []preflight.Result {
	return []preflight.Result{{Name: "stub", Passed: true, Detail: "ok"}}
}

func newDaemon(t *testing.T, cfg *config.Config, opts ...daemon.Option) *daemon.Daemon {
	t.Helper()
	opts = append([]daemon.Option{daemon.WithChecks(passingChecks)}, opts...)
	d, err := daemon.New(cfg, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockPath != cfg.LockPath() || status.ArchivePath != cfg.ArchivePath() {
		t.Fatalf("unexpected paths: %+v", status)
	}
	if status.RenderMode != config.RenderModeScript || status.Session != "" {
		t.Fatalf("unexpected render mode: %+v", status)
	}
	if len(status.Checks) != 1 || !status.Checks[0].Passed {
		t.Fatalf("unexpected checks: %+v", status.Checks)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected api to be listening")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddr() != "" {
		t.Fatal("expected api to be closed")
	}
}

func TestSecondInstanceIsLockedOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second := newDaemon(t, cfg)
	err := second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestCompletedTasksAreArchivedAndNotified(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &recordingNotifier{}
	d := newDaemon(t, cfg, daemon.WithNotifier(notifier))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	registry := d.Tasks()
	if err := registry.CreateTask("job-1", tasks.KindRender, 0); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	registry.UpdateProgress("job-1", tasks.Update{Details: map[string]any{"result_path": "/out/videos/a.mp4"}})
	registry.CompleteTask("job-1", true, "video ready: /out/videos/a.mp4")

	events, payload := notifier.waitFor(t, 1)
	if len(events) != 1 || events[0] != notifications.EventTaskCompleted {
		t.Fatalf("unexpected events: %v", events)
	}
	if payload["result"] != "/out/videos/a.mp4" || payload["kind"] != "render" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	registry.Delete("job-1")
	resp, err := http.Get("http://" + d.APIAddr() + "/api/progress/job-1")
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body httpapi.ProgressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Task.Archived || body.Task.Status != tasks.StatusCompleted {
		t.Fatalf("expected archived completed task, got %+v", body.Task)
	}
}

func TestFailedTaskNotifiesFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &recordingNotifier{}
	d := newDaemon(t, cfg, daemon.WithNotifier(notifier))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	registry := d.Tasks()
	if err := registry.CreateTask("job-2", tasks.KindDialogue, 3); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	registry.CompleteTask("job-2", false, "reference audio not found")

	events, payload := notifier.waitFor(t, 1)
	if len(events) != 1 || events[0] != notifications.EventTaskFailed {
		t.Fatalf("unexpected events: %v", events)
	}
	if payload["message"] != "reference audio not found" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestCompletionHooksDoNotBlockJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &recordingNotifier{gate: make(chan struct{})}
	d := newDaemon(t, cfg, daemon.WithNotifier(notifier))
	release := sync.OnceFunc(func() { close(notifier.gate) })
	t.Cleanup(release)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	registry := d.Tasks()
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		for _, id := range []string{"job-3", "job-4"} {
			if err := registry.CreateTask(id, tasks.KindDialogue, 2); err != nil {
				t.Errorf("CreateTask: %v", err)
				return
			}
			registry.CompleteTask(id, true, "audio ready")
		}
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("CompleteTask waited on the notifier")
	}
	if events, _ := notifier.snapshot(); len(events) != 0 {
		t.Fatalf("gate should hold notifications, got %v", events)
	}

	release()
	events, payload := notifier.waitFor(t, 2)
	if payload["taskID"] != "job-4" || events[1] != notifications.EventTaskCompleted {
		t.Fatalf("hook work ran out of order: %v %v", events, payload)
	}
}

func TestSessionModeOwnsWorker(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSessionMode())
	docker := &fakeDocker{}
	runner := extjob.NewRunner(extjob.WithExecutor(docker))
	d := newDaemon(t, cfg, daemon.WithRunner(runner))

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := d.Status(context.Background())
	if !strings.HasPrefix(status.Session, "joygen_worker_") {
		t.Fatalf("unexpected session name %q", status.Session)
	}

	d.Stop()
	calls := docker.calls()
	if len(calls) < 2 || calls[0] != "run" || calls[len(calls)-1] != "stop" {
		t.Fatalf("expected run first and stop last, got %v", calls)
	}
}

func TestFailedSessionStartReleasesLock(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSessionMode())
	docker := &fakeDocker{runErr: exitStatus(125)}
	d := newDaemon(t, cfg, daemon.WithRunner(extjob.NewRunner(extjob.WithExecutor(docker))))

	err := d.Start(context.Background())
	if !errors.Is(err, services.ErrSessionStart) {
		t.Fatalf("expected session start error, got %v", err)
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon must not report running after a failed start")
	}

	cfg.Render.Mode = config.RenderModeScript
	retry := newDaemon(t, cfg)
	if err := retry.Start(context.Background()); err != nil {
		t.Fatalf("expected lock to be free, got %v", err)
	}
}

func TestTestNotification(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	notifier := &recordingNotifier{}
	d := newDaemon(t, cfg, daemon.WithNotifier(notifier))

	sent, err := d.TestNotification(context.Background())
	if err != nil || sent {
		t.Fatalf("expected no-op without topic, got %v %v", sent, err)
	}

	cfg.Notifications.NtfyTopic = "https://ntfy.example/talkreel"
	sent, err = d.TestNotification(context.Background())
	if err != nil || !sent {
		t.Fatalf("expected test notification, got %v %v", sent, err)
	}
	events, _ := notifier.snapshot()
	if len(events) != 1 || events[0] != notifications.EventTest {
		t.Fatalf("unexpected events: %v", events)
	}
}
