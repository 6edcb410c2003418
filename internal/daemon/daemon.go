package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"talkreel/internal/config"
	"talkreel/internal/deps"
	"talkreel/internal/extjob"
	"talkreel/internal/httpapi"
	"talkreel/internal/logging"
	"talkreel/internal/notifications"
	"talkreel/internal/personas"
	"talkreel/internal/pipeline"
	"talkreel/internal/preflight"
	"talkreel/internal/services/synthesis"
	"talkreel/internal/session"
	"talkreel/internal/taskstore"
	"talkreel/internal/tasks"
)

const (
	shutdownTimeout = 30 * time.Second
	ttsStopGrace    = 5 * time.Second
	hookTimeout     = 15 * time.Second
)

// Daemon owns the long-running process: the task registry and its archive,
// the job orchestrator, optional TTS and worker-session processes, and the
// HTTP API. A flock on the state directory keeps a single instance running.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *tasks.Registry
	notifier notifications.Service
	catalog  *personas.Catalog
	runner   extjob.JobRunner
	checks   func(context.Context, *config.Config) []preflight.Result
	now      func() time.Time

	lockPath string
	lock     *flock.Flock

	// archive is read by hook work queued from job goroutines.
	archive atomic.Pointer[taskstore.Store]
	hooks   hookQueue

	mu        sync.Mutex
	cancel    context.CancelFunc
	jobs      *pipeline.Orchestrator
	tts       *extjob.Service
	worker    *session.Session
	api       *apiServer
	sweepDone chan struct{}

	running atomic.Bool
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithRunner sets the runner used for container and tool invocations.
func WithRunner(runner extjob.JobRunner) Option {
	return func(d *Daemon) {
		if runner != nil {
			d.runner = runner
		}
	}
}

// WithNotifier overrides the notification service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithChecks overrides the preflight checks reported by Status.
func WithChecks(checks func(context.Context, *config.Config) []preflight.Result) Option {
	return func(d *Daemon) {
		if checks != nil {
			d.checks = checks
		}
	}
}

// WithClock overrides the time source of the registry and sweeper.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a daemon. Nothing is started until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	catalog, err := personas.Load(cfg.Paths.PersonasFile)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog,
		checks:   preflight.RunAll,
		now:      time.Now,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	if d.runner == nil {
		d.runner = extjob.NewRunner(extjob.WithLogger(logging.NewComponentLogger(logger, "extjob")))
	}
	d.registry = tasks.NewRegistry(
		tasks.WithClock(d.now),
		tasks.WithLogCapacity(cfg.Registry.LogCapacity),
		tasks.WithCapacity(cfg.Registry.Capacity),
		tasks.WithTTL(time.Duration(cfg.Registry.TTLMinutes)*time.Minute),
		tasks.WithCompletionHook(func(task tasks.Task) { d.hooks.enqueue(func() { d.onComplete(task) }) }),
		tasks.WithEvictionHook(func(task tasks.Task) { d.hooks.enqueue(func() { d.onEvict(task) }) }),
	)
	return d, nil
}

// Tasks exposes the live registry.
func (d *Daemon) Tasks() *tasks.Registry {
	return d.registry
}

// Start acquires the instance lock and brings up every component in order:
// archive, sweeper, TTS autostart, worker session, orchestrator, API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another talkreel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	if err := d.start(runCtx); err != nil {
		d.shutdown()
		return err
	}

	d.running.Store(true)
	d.logger.Info("talkreel daemon started",
		logging.String("lock", d.lockPath),
		logging.String("render_mode", d.cfg.Render.Mode),
		logging.String("api", d.APIAddr()),
	)
	if missing := deps.Blocking(preflight.CheckSystemDeps(ctx, d.cfg)); len(missing) > 0 {
		logging.WarnWithContext(d.logger, "required tools missing", "dependencies_missing",
			logging.String("missing", strings.Join(missing, ", ")),
			logging.String(logging.FieldImpact, "jobs that need these tools will fail"),
			logging.String(logging.FieldErrorHint, "run talkreel doctor"),
		)
	}
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	store, err := taskstore.Open(d.cfg.ArchivePath())
	if err != nil {
		return fmt.Errorf("open task archive: %w", err)
	}
	d.archive.Store(store)

	done := make(chan struct{})
	d.mu.Lock()
	d.sweepDone = done
	d.mu.Unlock()
	go d.sweepLoop(ctx, done)

	if d.cfg.Synthesis.Autostart {
		d.startTTS(ctx)
	}

	var worker *session.Session
	if d.cfg.SessionMode() {
		worker, err = session.Start(ctx, d.runner, SessionSpec(d.cfg),
			session.WithLogger(logging.NewComponentLogger(d.logger, "session")))
		if err != nil {
			return err
		}
	}

	jobs := pipeline.New(d.registry,
		NewCollaborators(d.cfg, d.runner, worker, d.catalog, d.logger),
		pipeline.SettingsFromConfig(d.cfg),
		pipeline.WithLogger(logging.NewComponentLogger(d.logger, "pipeline")),
	)
	d.mu.Lock()
	d.worker = worker
	d.jobs = jobs
	d.mu.Unlock()

	handler := httpapi.NewHandler(httpapi.Config{
		Tasks:      d.registry,
		Archive:    store,
		Jobs:       jobs,
		Personas:   d.catalog,
		Status:     d,
		Token:      d.cfg.Paths.APIToken,
		JobContext: ctx,
		Logger:     logging.NewComponentLogger(d.logger, "api"),
		Clock:      d.now,
	})
	api := newAPIServer(d.cfg.Paths.APIBind, handler, d.logger)
	if err := api.start(); err != nil {
		return err
	}
	d.mu.Lock()
	d.api = api
	d.mu.Unlock()
	return nil
}

// startTTS launches GPT-SoVITS when it is not answering. Failure is logged;
// dialogue jobs then degrade to text replies.
func (d *Daemon) startTTS(ctx context.Context) {
	client := synthesis.NewClient(synthesisConfig(d.cfg))
	launcher := synthesis.NewLauncher(synthesis.LauncherConfig{
		Python:         d.cfg.Synthesis.Python,
		ServiceDir:     d.cfg.Synthesis.ServiceDir,
		StartupTimeout: config.Seconds(d.cfg.Synthesis.StartupTimeoutSeconds),
	}, client, logging.NewComponentLogger(d.logger, "tts"))
	svc, err := launcher.Ensure(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "tts autostart failed", "tts_autostart_failed",
			logging.String(logging.FieldErrorHint, "check synthesis.service_dir and synthesis.python"),
			logging.String(logging.FieldImpact, "dialogue jobs reply with text only"),
			logging.Error(err),
		)
		return
	}
	d.mu.Lock()
	d.tts = svc
	d.mu.Unlock()
}

// Stop shuts components down in reverse start order. In-flight jobs are
// cancelled and waited for so their final status reaches the archive.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.shutdown()
	d.running.Store(false)
	d.logger.Info("talkreel daemon stopped")
}

func (d *Daemon) shutdown() {
	d.mu.Lock()
	api, cancel, jobs := d.api, d.cancel, d.jobs
	worker, tts, sweepDone := d.worker, d.tts, d.sweepDone
	d.api, d.cancel, d.jobs = nil, nil, nil
	d.worker, d.tts, d.sweepDone = nil, nil, nil
	d.mu.Unlock()

	ctx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	api.stop(ctx)
	if cancel != nil {
		cancel()
	}
	if jobs != nil {
		jobs.Wait()
	}
	if sweepDone != nil {
		<-sweepDone
	}
	d.hooks.wait()
	if err := worker.Stop(ctx); err != nil {
		d.logger.Warn("worker session stop failed", logging.Error(err))
	}
	if err := tts.Stop(ctx, ttsStopGrace); err != nil {
		d.logger.Warn("tts service stop failed", logging.Error(err))
	}
	if store := d.archive.Swap(nil); store != nil {
		if err := store.Close(); err != nil {
			d.logger.Warn("task archive close failed", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close stops the daemon if it is running and waits for queued archive
// writes and notifications.
func (d *Daemon) Close() error {
	d.Stop()
	d.hooks.wait()
	return nil
}

// APIAddr returns the address the API listens on, or "" when it is not
// serving.
func (d *Daemon) APIAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.addr()
}

// Status implements httpapi.StatusReporter.
func (d *Daemon) Status(ctx context.Context) httpapi.DaemonStatus {
	status := httpapi.DaemonStatus{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		LockPath:   d.lockPath,
		RenderMode: d.cfg.Render.Mode,
		Tasks:      map[string]int{},
	}
	if store := d.archive.Load(); store != nil {
		status.ArchivePath = store.Path()
	}
	d.mu.Lock()
	if d.worker != nil {
		status.Session = d.worker.Name()
	}
	d.mu.Unlock()
	for s, n := range d.registry.Counts() {
		status.Tasks[string(s)] = n
	}
	status.Dependencies = dependencyStatuses(preflight.CheckSystemDeps(ctx, d.cfg))
	for _, r := range d.checks(ctx, d.cfg) {
		status.Checks = append(status.Checks, httpapi.CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return status
}

// TestNotification publishes a test event. It reports false when no ntfy
// topic is configured.
func (d *Daemon) TestNotification(ctx context.Context) (bool, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Daemon) onComplete(task tasks.Task) {
	d.archiveTask(task)

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	event, payload := completionEvent(task)
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(d.logger, "task notification failed", "notification_failed",
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.TaskID(task.ID),
			logging.Error(err),
		)
	}
}

// onEvict re-archives the final snapshot so details written after
// completion are kept.
func (d *Daemon) onEvict(task tasks.Task) {
	if task.Status.Terminal() {
		d.archiveTask(task)
	}
}

func (d *Daemon) archiveTask(task tasks.Task) {
	store := d.archive.Load()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := store.Save(ctx, task); err != nil {
		logging.WarnWithContext(d.logger, "task archive write failed", "archive_write_failed",
			logging.String(logging.FieldErrorHint, "check permissions on the state directory"),
			logging.String(logging.FieldImpact, "the task disappears once the registry evicts it"),
			logging.TaskID(task.ID),
			logging.Error(err),
		)
	}
}

func (d *Daemon) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	interval := config.Seconds(d.cfg.Registry.SweepIntervalSeconds)
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Daemon) sweep(ctx context.Context) {
	now := d.now()
	if n := d.registry.Sweep(now); n > 0 {
		d.logger.Debug("registry sweep", logging.Int("evicted", n))
	}
	days := d.cfg.Registry.ArchiveRetentionDays
	store := d.archive.Load()
	if days <= 0 || store == nil {
		return
	}
	removed, err := store.Prune(ctx, now.Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("task archive prune failed", logging.Error(err))
		}
		return
	}
	if removed > 0 {
		d.logger.Info("pruned archived tasks", logging.Int64("removed", removed))
	}
}

func completionEvent(task tasks.Task) (notifications.Event, notifications.Payload) {
	payload := notifications.Payload{
		"taskID":  task.ID,
		"kind":    string(task.Kind),
		"message": task.Message,
	}
	if path, ok := task.Detail("result_path"); ok {
		payload["result"] = path
	}
	if task.Status == tasks.StatusFailed {
		return notifications.EventTaskFailed, payload
	}
	if stages, ok := task.Details["degraded_stages"].([]string); ok && len(stages) > 0 {
		payload["degraded"] = strings.Join(stages, ", ")
		return notifications.EventTaskDegraded, payload
	}
	return notifications.EventTaskCompleted, payload
}

func dependencyStatuses(statuses []deps.Status) []httpapi.DependencyStatus {
	out := make([]httpapi.DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, httpapi.DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
		})
	}
	return out
}
