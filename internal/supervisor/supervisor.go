// Package supervisor runs uploaded artifacts as child processes, at most
// one per artifact key.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

type State string

const (
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
)

// StopResult reports how a Stop call ended.
type StopResult string

const (
	StopNotRunning StopResult = "not_running"
	StopGraceful   StopResult = "graceful"
	StopForced     StopResult = "forced"
)

var (
	ErrSpawnFailed = errors.New("failed to start process")
	ErrStopTimeout = errors.New("process did not exit after kill")
	ErrNoLogs      = errors.New("no logs for artifact")
)

const (
	defaultStopTimeout = 5 * time.Second
	defaultKillTimeout = 2 * time.Second
	maxLogSize         = 1 << 20
)

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	ProcessStarted(key string)
	SpawnFailed(key string)
	ProcessStopped(key string, result StopResult)
	ProcessExited(key string)
}

type nopObserver struct{}

func (nopObserver) ProcessStarted(string)             {}
func (nopObserver) SpawnFailed(string)                {}
func (nopObserver) ProcessStopped(string, StopResult) {}
func (nopObserver) ProcessExited(string)              {}

type Config struct {
	// Interpreter runs the artifact ("python3 <path>"). Empty executes the
	// artifact directly.
	Interpreter string
	// LogDir receives one "<key>.log" per artifact. Empty discards output.
	LogDir      string
	StopTimeout time.Duration
	KillTimeout time.Duration
	// ScrubEnv lists variables removed from the child environment.
	ScrubEnv []string
	Observer Observer
}

// ProcessInfo is a snapshot of a live child.
type ProcessInfo struct {
	Key       string
	PID       int
	StartedAt time.Time
}

type process struct {
	key       string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	err       error // set before done is closed

	// stopped is non-nil while a Stop is terminating the child and is closed
	// once the entry has been removed. Guarded by Supervisor.mu.
	stopped    chan struct{}
	stopResult StopResult
	stopErr    error
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor owns the key -> process map. Every check-then-act sequence
// runs under mu, so one key never has two live children. Signalling and
// waiting for a child happen outside mu.
type Supervisor struct {
	cfg      Config
	observer Observer

	mu    sync.Mutex
	procs map[string]*process
}

func New(cfg Config) (*Supervisor, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = defaultKillTimeout
	}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	return &Supervisor{
		cfg:      cfg,
		observer: obs,
		procs:    make(map[string]*process),
	}, nil
}

// Status reports RUNNING only for a tracked child that has not exited.
// Exited children are evicted here, so the answer is never stale.
func (s *Supervisor) Status(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.statusLocked(key)
}

// Statuses resolves several keys under one lock acquisition.
func (s *Supervisor) Statuses(keys []string) map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(keys))
	for _, k := range keys {
		out[k] = s.statusLocked(k)
	}
	return out
}

func (s *Supervisor) statusLocked(key string) State {
	p, ok := s.procs[key]
	if !ok {
		return StateStopped
	}
	if p.exited() {
		// a stopping entry is removed by its Stop call
		if p.stopped == nil {
			s.evictLocked(p)
		}
		return StateStopped
	}
	return StateRunning
}

// Info returns the live child for key, if any.
func (s *Supervisor) Info(key string) (ProcessInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statusLocked(key) != StateRunning {
		return ProcessInfo{}, false
	}
	p := s.procs[key]
	return ProcessInfo{Key: key, PID: p.pid, StartedAt: p.startedAt}, true
}

// Start spawns executable for key unless a live child already exists, in
// which case it succeeds without doing anything. A child that is being
// stopped is waited for first, then replaced.
func (s *Supervisor) Start(key, executable string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		p, ok := s.procs[key]
		if !ok || p.stopped == nil {
			break
		}
		stopped := p.stopped
		s.mu.Unlock()
		<-stopped
		s.mu.Lock()
	}

	if s.statusLocked(key) == StateRunning {
		return nil
	}

	p, err := s.spawn(key, executable)
	if err != nil {
		s.observer.SpawnFailed(key)
		log.Printf("[supervisor] spawn failed key=%s error=%v", key, err)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s.procs[key] = p
	s.observer.ProcessStarted(key)
	log.Printf("[supervisor] started key=%s pid=%d", key, p.pid)
	return nil
}

func (s *Supervisor) spawn(key, executable string) (*process, error) {
	info, err := os.Stat(executable)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", executable)
	}

	var cmd *exec.Cmd
	if s.cfg.Interpreter != "" {
		cmd = exec.Command(s.cfg.Interpreter, executable)
	} else {
		cmd = exec.Command(executable)
	}
	cmd.Dir = filepath.Dir(executable)
	cmd.Env = childEnv(os.Environ(), s.cfg.ScrubEnv, map[string]string{"ARTIFACT_KEY": key})
	setProcessGroup(cmd)

	logFile, err := s.openLog(key)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	p := &process{
		key:       key,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	go func() {
		p.err = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		close(p.done)
	}()

	return p, nil
}

// Stop terminates the child for key. The entry is removed whatever happens
// to the signal; the error only reports a child that survived SIGKILL.
// Concurrent calls for the same key share one termination.
func (s *Supervisor) Stop(ctx context.Context, key string) (StopResult, error) {
	s.mu.Lock()
	p, ok := s.procs[key]
	if !ok {
		s.mu.Unlock()
		return StopNotRunning, nil
	}
	if stopped := p.stopped; stopped != nil {
		s.mu.Unlock()
		<-stopped
		return p.stopResult, p.stopErr
	}
	if p.exited() {
		s.evictLocked(p)
		s.mu.Unlock()
		return StopNotRunning, nil
	}
	p.stopped = make(chan struct{})
	s.mu.Unlock()

	result, err := s.terminate(ctx, p)

	s.mu.Lock()
	if s.procs[key] == p {
		delete(s.procs, key)
	}
	p.stopResult, p.stopErr = result, err
	close(p.stopped)
	s.mu.Unlock()

	s.observer.ProcessStopped(key, result)
	log.Printf("[supervisor] stopped key=%s pid=%d result=%s", key, p.pid, result)
	return result, err
}

func (s *Supervisor) terminate(ctx context.Context, p *process) (StopResult, error) {
	if err := terminateGroup(p.pid); err != nil {
		log.Printf("[supervisor] SIGTERM failed key=%s pid=%d error=%v", p.key, p.pid, err)
	}

	grace := time.NewTimer(s.cfg.StopTimeout)
	defer grace.Stop()

	select {
	case <-p.done:
		return StopGraceful, nil
	case <-grace.C:
	case <-ctx.Done():
	}

	if err := killGroup(p.pid); err != nil {
		log.Printf("[supervisor] SIGKILL failed key=%s pid=%d error=%v", p.key, p.pid, err)
	}

	kill := time.NewTimer(s.cfg.KillTimeout)
	defer kill.Stop()

	select {
	case <-p.done:
		return StopForced, nil
	case <-kill.C:
		return StopForced, fmt.Errorf("%w: pid %d", ErrStopTimeout, p.pid)
	}
}

// Reap drops every exited child and returns how many were removed.
func (s *Supervisor) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.procs {
		if p.stopped == nil && p.exited() {
			s.evictLocked(p)
			n++
		}
	}
	return n
}

// Running counts live children.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.procs {
		if !p.exited() {
			n++
		}
	}
	return n
}

// Shutdown stops every tracked child.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.procs))
	for k := range s.procs {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if _, err := s.Stop(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) evictLocked(p *process) {
	delete(s.procs, p.key)
	s.observer.ProcessExited(p.key)

	code := 0
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	log.Printf("[supervisor] process exited key=%s pid=%d code=%d error=%v", p.key, p.pid, code, p.err)
}

// LogTail returns up to max trailing bytes of the artifact's output log.
func (s *Supervisor) LogTail(key string, max int64) ([]byte, error) {
	path, ok := s.logPath(key)
	if !ok {
		return nil, ErrNoLogs
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoLogs
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}
	if max > 0 && info.Size() > max {
		if _, err := f.Seek(info.Size()-max, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek log: %w", err)
		}
	}
	return io.ReadAll(f)
}

func (s *Supervisor) logPath(key string) (string, bool) {
	if s.cfg.LogDir == "" || key == "" || filepath.Base(key) != key || key == "." || key == ".." {
		return "", false
	}
	return filepath.Join(s.cfg.LogDir, key+".log"), true
}

// openLog appends to the artifact's log, starting over once it grows past
// maxLogSize.
func (s *Supervisor) openLog(key string) (*os.File, error) {
	path, ok := s.logPath(key)
	if !ok {
		return nil, nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if info, err := os.Stat(path); err == nil && info.Size() > maxLogSize {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	fmt.Fprintf(f, "=== %s started %s ===\n", key, time.Now().UTC().Format(time.RFC3339))
	return f, nil
}
