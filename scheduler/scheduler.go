// Package scheduler implements the tick-driven decision engine (C9/C10):
// the single-threaded cooperative loop that ingests the latest power
// record, partitions tasks by state, issues stop/start/adjust decisions in
// priority order, and publishes a lossy status feed to observers (spec.md
// §4.6). The outer run loop keeps the teacher's PeriodicTask/goroutine
// shape (scheduler/scheduler.go's MinerScheduler.Start), replacing its
// miner-discovery/price-check/MPC tasks with a single periodic Tick.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/devskill-org/home-scheduler/clock"
	"github.com/devskill-org/home-scheduler/record"
	"github.com/devskill-org/home-scheduler/sensor"
	"github.com/devskill-org/home-scheduler/task"
	"github.com/devskill-org/home-scheduler/transport"
	"github.com/devskill-org/home-scheduler/window"
)

// PeriodicTask represents a task that runs periodically with an optional
// initial delay, unchanged from the teacher's shape: wait out the delay,
// run once, then run again every interval until stopped.
type PeriodicTask struct {
	name         string
	initialDelay time.Duration
	interval     time.Duration
	runFunc      func()
}

func (pt *PeriodicTask) run(ctx context.Context, stopChan <-chan struct{}, logger *log.Logger) {
	if pt.initialDelay > 0 {
		select {
		case <-time.After(pt.initialDelay):
			pt.runFunc()
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		}
	} else {
		pt.runFunc()
	}

	ticker := time.NewTicker(pt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pt.runFunc()
		case <-ctx.Done():
			logger.Printf("[%s] stopped: context cancelled", pt.name)
			return
		case <-stopChan:
			logger.Printf("[%s] stopped: stop signal", pt.name)
			return
		}
	}
}

// taskEntry bookkeeps a registered task beyond what the Task interface
// itself tracks: when it was registered, its channel keys (cached so
// Unregister doesn't need another call into a possibly-unreachable task),
// and the consecutive-failure counter sanitise acts on.
type taskEntry struct {
	task                task.Task
	keys                []string
	registeredAt        time.Time
	consecutiveFailures int
	failedThisTick      bool
}

// TaskStatus is the per-task status line the emit step publishes (spec.md
// §4.6 step 8, §6 "tasks() → [desc]").
type TaskStatus struct {
	ID       string
	Priority string
	Running  bool
	Runnable bool
	Desc     string
}

// Scheduler is the tick state machine (C9). Tasks are borrowed through the
// task.Task interface, never owned (spec.md §3 "Ownership") — Unregister
// never calls Stop on a task's behalf.
type Scheduler struct {
	config *Config
	clock  clock.Clock
	window *window.Window
	source *sensor.Reader[record.PowerRecord]

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	paused  bool
	logger  *log.Logger
	metrics *Metrics

	subsMu sync.Mutex
	subs   []chan []TaskStatus

	isRunning bool
	stopChan  chan struct{}
}

// New builds a Scheduler. source may be nil, in which case Tick's ingest
// step is a no-op and the window is only ever advanced by tests pushing
// records directly.
func New(config *Config, c clock.Clock, source *sensor.Reader[record.PowerRecord], logger *log.Logger) *Scheduler {
	if c == nil {
		c = clock.NewSystem(nil)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		config: config,
		clock:  c,
		window: window.New(config.WindowSize, config.IgnorePowerThreshold),
		source: source,
		tasks:  make(map[string]*taskEntry),
		logger: logger,
	}
}

// SetMetrics attaches a Metrics sink; subsequent ticks report through it.
func (s *Scheduler) SetMetrics(m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// RegisterTask adds t under its own ID, rejecting registration if any of
// its channel keys overlap a task already registered (spec.md §9 open
// question, resolved as "forbid overlap at registration").
func (s *Scheduler) RegisterTask(t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := t.ID()
	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("scheduler: task %q already registered", id)
	}
	keys := t.Keys()
	for _, existing := range s.tasks {
		for _, k := range keys {
			for _, ek := range existing.keys {
				if k == ek {
					return fmt.Errorf("scheduler: task %q channel key %q already owned by %q", id, k, existing.task.ID())
				}
			}
		}
	}

	s.tasks[id] = &taskEntry{task: t, keys: keys, registeredAt: s.clock.Now()}
	return nil
}

// UnregisterTask removes a task by ID. Absence for more than
// config.SanitiseGrace worth of consecutive failed ticks triggers the same
// removal automatically, from Tick's sanitise step.
func (s *Scheduler) UnregisterTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Pause disables steps 5-7 (stop/start/adjust decisions). Currently running
// tasks are left running.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables steps 5-7.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// StopAll calls Stop on every registered task in arbitrary order, ignoring
// IsStoppable lock-outs (spec.md §9 open question, resolved "shutdown
// overrides lockouts").
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	entries := make([]*taskEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		s.invoke(e, func() {
			if err := e.task.Stop(); err != nil {
				s.logger.Printf("scheduler: stop_all: %s: %v", e.task.ID(), err)
			}
		})
	}
}

// Tasks returns a one-line description per registered task, for dashboards
// (spec.md §6 "tasks() → [desc]").
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	entries := make([]*taskEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	descs := make([]string, 0, len(entries))
	for _, e := range entries {
		desc := e.task.ID()
		s.invoke(e, func() { desc = e.task.Desc() })
		descs = append(descs, desc)
	}
	return descs
}

// Snapshot returns a read-only copy of the sliding window's records.
func (s *Scheduler) Snapshot() []record.PowerRecord {
	return s.window.Snapshot()
}

// Subscribe registers a channel that receives every emitted status batch.
// Sends are non-blocking: a slow or absent reader misses updates rather
// than stalling the tick (spec.md §4.6 step 8 "no back-pressure; lossy"),
// generalising the teacher's WebServer.broadcastStatus/handleBroadcasts
// pair onto a typed channel instead of a []byte websocket frame.
func (s *Scheduler) Subscribe() <-chan []TaskStatus {
	ch := make(chan []TaskStatus, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Scheduler) emit(statuses []TaskStatus) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- statuses:
		default:
		}
	}
}

// invoke calls fn, recovering from a panic inside a task adapter the same
// way transport.Call turns a hung remote call into a timeout: a panicking
// in-process task counts as one unreachable observation this tick.
// config.SanitiseGrace worth of consecutive unreachable ticks sanitises the
// task out (spec.md §7 error kind 1, generalised from a remote timeout onto
// an in-process call).
func (s *Scheduler) invoke(e *taskEntry, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.failedThisTick = true
			s.logger.Printf("scheduler: task %q panicked: %v", e.task.ID(), r)
			s.metrics.observeTaskFailure(e.task.ID())
		}
	}()
	fn()
}

// Tick runs one full pass of the state machine (spec.md §4.6).
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	entries := make([]*taskEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		e.failedThisTick = false
		entries = append(entries, e)
	}
	paused := s.paused
	s.mu.Unlock()

	// 1. Sanitise: drop tasks that failed SanitiseGrace worth of consecutive
	// ticks in a row.
	const defaultGraceTicks = 3
	graceTicks := defaultGraceTicks
	if s.config.TickInterval > 0 {
		graceTicks = int(s.config.SanitiseGrace / s.config.TickInterval)
		if graceTicks < 1 {
			graceTicks = 1
		}
	}
	var unreachable []string
	for _, e := range entries {
		if e.consecutiveFailures >= graceTicks {
			unreachable = append(unreachable, e.task.ID())
		}
	}
	if len(unreachable) > 0 {
		s.mu.Lock()
		for _, id := range unreachable {
			delete(s.tasks, id)
		}
		s.mu.Unlock()
		entries = filterOutIDs(entries, unreachable)
		for _, id := range unreachable {
			s.logger.Printf("scheduler: sanitised unreachable task %q", id)
		}
	}

	// 2. Ingest.
	s.ingest(ctx)

	// 3. Refresh priorities.
	for _, e := range entries {
		s.invoke(e, e.task.RefreshPriority)
	}

	// 4. Partition.
	var running, runnableStopped []*taskEntry
	runningSet := make(map[string]bool, len(entries))
	for _, e := range entries {
		var isRunning, isRunnable bool
		s.invoke(e, func() { isRunning = e.task.IsRunning() })
		s.invoke(e, func() { isRunnable = e.task.IsRunnable() })
		if isRunning {
			running = append(running, e)
			runningSet[e.task.ID()] = true
		} else if isRunnable {
			runnableStopped = append(runnableStopped, e)
		}
	}

	if !paused {
		running = s.stopDecisions(running, runningSet)
		running = s.startDecisions(running, runnableStopped, runningSet)
		s.adjust(running)
	}

	// 8. Emit.
	statuses := make([]TaskStatus, 0, len(entries))
	for _, e := range entries {
		var isRunning, isRunnable bool
		var priority string
		desc := e.task.ID()
		s.invoke(e, func() {
			isRunning = e.task.IsRunning()
			isRunnable = e.task.IsRunnable()
			priority = e.task.Priority().String()
			desc = e.task.Desc()
		})
		statuses = append(statuses, TaskStatus{ID: e.task.ID(), Priority: priority, Running: isRunning, Runnable: isRunnable, Desc: desc})
	}
	s.emit(statuses)
	s.metrics.observeTick(len(entries), len(running))

	// A task whose failure streak reaches graceTicks on this tick is dropped
	// now rather than at the start of the next one.
	unreachable = nil
	for _, e := range entries {
		if e.failedThisTick {
			e.consecutiveFailures++
		} else {
			e.consecutiveFailures = 0
		}
		if e.consecutiveFailures >= graceTicks {
			unreachable = append(unreachable, e.task.ID())
		}
	}
	if len(unreachable) > 0 {
		s.mu.Lock()
		for _, id := range unreachable {
			delete(s.tasks, id)
		}
		s.mu.Unlock()
		for _, id := range unreachable {
			s.logger.Printf("scheduler: sanitised unreachable task %q", id)
		}
	}
}

func filterOutIDs(entries []*taskEntry, ids []string) []*taskEntry {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := entries[:0:0]
	for _, e := range entries {
		if !drop[e.task.ID()] {
			out = append(out, e)
		}
	}
	return out
}

// ingest pulls the latest power record and pushes it into the window. A
// failed read leaves the window's last record in place (spec.md §7 error
// kind 3, "sensor degraded": use the most recent valid record).
func (s *Scheduler) ingest(ctx context.Context) {
	if s.source == nil {
		return
	}
	res := s.source.Read(ctx)
	if res.Outcome == transport.OutcomeOK {
		s.window.Push(res.Value)
		return
	}
	s.logger.Printf("scheduler: power sensor read failed (%v); using last known record", res.Err)
}

// consumers adapts a slice of task entries to window.PowerConsumer.
func consumers(entries []*taskEntry) []window.PowerConsumer {
	out := make([]window.PowerConsumer, 0, len(entries))
	for _, e := range entries {
		out = append(out, task.AsPowerConsumer(e.task))
	}
	return out
}

func withoutID(entries []*taskEntry, id string) []*taskEntry {
	out := make([]*taskEntry, 0, len(entries))
	for _, e := range entries {
		if e.task.ID() != id {
			out = append(out, e)
		}
	}
	return out
}

func autoAdjustEntries(entries []*taskEntry) []*taskEntry {
	var out []*taskEntry
	for _, e := range entries {
		if e.task.AutoAdjust() {
			out = append(out, e)
		}
	}
	return out
}

// stopDecisions implements step 5: visit running tasks in ascending
// importance order, stopping any whose production coverage has fallen
// below what it needs to keep running.
func (s *Scheduler) stopDecisions(running []*taskEntry, runningSet map[string]bool) []*taskEntry {
	ordered := append([]*taskEntry(nil), running...)
	sort.SliceStable(ordered, func(i, j int) bool { return task.Less(ordered[j].task, ordered[i].task) })

	for _, e := range ordered {
		var stoppable bool
		s.invoke(e, func() { stoppable = e.task.IsStoppable() })
		if !stoppable {
			continue
		}

		minimize := consumers(withoutID(autoAdjustEntries(running), e.task.ID()))
		ratio := s.window.CoveredByProduction(task.AsPowerConsumer(e.task), minimize, nil)
		usage := s.window.PowerUsedBy(task.AsPowerConsumer(e.task))

		var meets bool
		s.invoke(e, func() { meets = e.task.MeetRunningCriteria(ratio, usage) })
		if meets {
			continue
		}

		s.invoke(e, func() {
			if err := e.task.Stop(); err != nil {
				s.logger.Printf("scheduler: stop %q: %v", e.task.ID(), err)
			}
		})
		delete(runningSet, e.task.ID())
		running = withoutID(running, e.task.ID())
	}
	return running
}

// startDecisions implements step 6: visit stopped-but-runnable tasks in
// descending importance order, preempting strictly-lower-priority running
// tasks (only the stoppable ones) to free power when needed.
func (s *Scheduler) startDecisions(running, runnableStopped []*taskEntry, runningSet map[string]bool) []*taskEntry {
	ordered := append([]*taskEntry(nil), runnableStopped...)
	sort.SliceStable(ordered, func(i, j int) bool { return task.Less(ordered[i].task, ordered[j].task) })

	for _, e := range ordered {
		var lowerPriorityRunning []*taskEntry
		for _, r := range running {
			if r.task.Priority() < e.task.Priority() {
				lowerPriorityRunning = append(lowerPriorityRunning, r)
			}
		}

		minimum := consumers(autoAdjustEntries(running))
		ignore := consumers(lowerPriorityRunning)
		ratio := s.window.AvailableFor(task.AsPowerConsumer(e.task), minimum, ignore)

		var meets bool
		s.invoke(e, func() { meets = e.task.MeetRunningCriteria(ratio, e.task.NominalPower()) })
		if !meets {
			continue
		}

		for _, r := range lowerPriorityRunning {
			var stoppable bool
			s.invoke(r, func() { stoppable = r.task.IsStoppable() })
			if !stoppable {
				continue
			}
			s.invoke(r, func() {
				if err := r.task.Stop(); err != nil {
					s.logger.Printf("scheduler: preempt-stop %q: %v", r.task.ID(), err)
				}
			})
			delete(runningSet, r.task.ID())
			running = withoutID(running, r.task.ID())
		}

		s.invoke(e, func() {
			if err := e.task.Start(); err != nil {
				s.logger.Printf("scheduler: start %q: %v", e.task.ID(), err)
				return
			}
			runningSet[e.task.ID()] = true
			running = append(running, e)
		})
	}
	return running
}

// adjust implements step 7: push a fresh set-point to every running
// auto-adjust task based on the power currently available to it.
func (s *Scheduler) adjust(running []*taskEntry) {
	for _, e := range running {
		adjuster, ok := e.task.(task.AutoAdjuster)
		if !ok || !e.task.AutoAdjust() {
			continue
		}
		minimum := consumers(withoutID(autoAdjustEntries(running), e.task.ID()))
		ratio := s.window.AvailableFor(task.AsPowerConsumer(e.task), minimum, nil)
		available := ratio * e.task.NominalPower()
		s.invoke(e, func() {
			if err := adjuster.AdjustChargeRate(context.Background(), available); err != nil {
				s.logger.Printf("scheduler: adjust %q: %v", e.task.ID(), err)
			}
		})
	}
}

// Start begins the periodic tick loop. It blocks until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	stopChan := s.stopChan
	s.mu.Unlock()

	pt := PeriodicTask{
		name:     "Tick",
		interval: s.config.TickInterval,
		runFunc:  func() { s.Tick(ctx) },
	}
	pt.run(ctx, stopChan, s.logger)

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
	return nil
}

// Stop ends the periodic tick loop started by Start; it does not stop any
// device (use StopAll for that).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// IsPaused reports whether steps 5-7 are currently disabled.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
