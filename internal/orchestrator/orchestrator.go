// Package orchestrator drives the agent's update-session state machine
// (spec §4.1): a single worker goroutine walks job-download,
// data-download, verify, and result-report phases, invoking the
// application callback on every transition and retrying the
// connect/download phases per the configured retry policy.
//
// Grounded on the teacher's pairing of a dedicated goroutine loop with
// a mutex-guarded shared context (pkg/worker/worker.go's
// heartbeatLoop/containerExecutorLoop plus a containersMu-guarded map,
// pkg/manager/manager.go's Manager struct) and on the teacher's
// operation-dispatch shape in pkg/manager/fsm.go (a single Apply
// routing named operations to a store call) — generalized here to a
// declarative per-state table driven by github.com/looplab/fsm instead
// of a hand-rolled switch.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ota-agent/internal/job"
	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/internal/otalog"
	"github.com/cuemby/ota-agent/internal/otametrics"
	"github.com/cuemby/ota-agent/internal/transport"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// Storage is the subset of internal/storage's Engine the orchestrator
// drives directly (spec §4.1 STORAGE_OPEN / STORAGE_CLOSE; the
// per-chunk STORAGE_WRITE of spec's state set is folded into the
// DATA_DOWNLOAD action's write callback rather than its own FSM hop —
// see DESIGN.md).
type Storage interface {
	Open(totalImageSize uint32, rebootOnCompletion, validateAfterReboot bool) error
	Write(offset uint32, data []byte) error
	Close() error
	Verify() error
	TotalBytesWritten() uint32
}

// Callback is the application callback of spec §6.1.
type Callback func(Event) otatypes.CallbackResult

// Event is the payload passed to Callback on every state change and on
// the terminal success/failure of a phase.
type Event struct {
	Reason    otatypes.CallbackReason
	State     otatypes.State
	LastError error
	Progress  otatypes.Progress
}

// Config holds the orchestrator's tunables (spec §4.1 "Timers" and
// "Retry policy").
type Config struct {
	Board          string
	Manufacturer   string
	ManufacturerID string
	Product        string
	SerialNumber   string
	RunningVersion otatypes.Version

	ConnectRetryMax      int
	DataDownloadRetryMax int
	RetryInterval        time.Duration

	InitialCheckInterval time.Duration
	NextCheckInterval    time.Duration

	RebootOnCompletion  bool
	ValidateAfterReboot bool
	GetAllAtOnce        bool

	// CurrentConnection, CurrentHost, and CurrentPort describe the
	// server the agent is already configured against, so JOB_PARSE can
	// tell an empty/matching job-document host from a real redirect
	// (spec §4.2 "use current host/port when empty or matching").
	CurrentConnection otatypes.Connection
	CurrentHost       string
	CurrentPort       int

	// UseDirectFlow and DirectFile configure the job-less direct-flow
	// path of spec §4.1 ("USE_DIRECT_FLOW" returned from START_UPDATE).
	UseDirectFlow bool
	DirectFile    string
}

func (c Config) withDefaults() Config {
	if c.ConnectRetryMax <= 0 {
		c.ConnectRetryMax = 3
	}
	if c.DataDownloadRetryMax <= 0 {
		c.DataDownloadRetryMax = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.InitialCheckInterval <= 0 {
		c.InitialCheckInterval = 10 * time.Second
	}
	if c.NextCheckInterval <= 0 {
		c.NextCheckInterval = time.Hour
	}
	return c
}

// Dependencies bundles the transports and storage engine an
// Orchestrator drives. The three transports are usually the same
// adapter instance; they are named separately because spec §4.1 lets
// the job, data, and result phases address different servers
// (JOB_REDIRECT, RESULT_REDIRECT).
type Dependencies struct {
	JobTransport    transport.Transport
	DataTransport   transport.Transport
	ResultTransport transport.Transport
	Storage         Storage
}

// Orchestrator is the single dedicated worker of spec §4.1
// "Concurrency": one goroutine runs sessions; outside callers mutate or
// read it only through Stop, CheckNow, and Snapshot.
type Orchestrator struct {
	cfg Config

	// logger is the orchestrator's component-scoped logger (spec §2.1
	// ambient-stack requirement that every component pull one via
	// otalog.WithComponent), captured once at construction time so it
	// reflects whatever otalog.Init configured before New ran.
	logger zerolog.Logger

	jobTransport    transport.Transport
	dataTransport   transport.Transport
	resultTransport transport.Transport
	storage         Storage
	callback        Callback

	machine *machine

	// progressMu guards the fields read by Snapshot from outside the
	// worker goroutine while DATA_DOWNLOAD mutates them from inside it
	// (spec §5 "Shared resources").
	progressMu sync.Mutex
	job        otatypes.Job
	progress   otatypes.Progress
	lastErr    error
	state      otatypes.State
	startedAt  time.Time

	connectRetry int
	dataRetry    int
	totalSize    uint32
	jobOutcome   job.Outcome
	jobParseErr  error
	jobPhaseErr  error
	dataPhaseErr error

	stopRequested bool

	checkNow chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New constructs an Orchestrator at rest in AGENT_WAITING.
func New(cfg Config, deps Dependencies, callback Callback) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:             cfg,
		logger:          otalog.WithComponent("orchestrator"),
		jobTransport:    deps.JobTransport,
		dataTransport:   deps.DataTransport,
		resultTransport: deps.ResultTransport,
		storage:         deps.Storage,
		callback:        callback,
		state:           otatypes.StateAgentWaiting,
		checkNow:        make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	o.machine = newMachine()
	return o
}

// Run is the worker loop (spec §4.1 "Concurrency: one dedicated worker
// thread runs the state loop"). It blocks until Stop is called or ctx
// is canceled. A STOP verdict from the application callback ends only
// the current session; the worker then waits for the next check.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().Str("state", string(otatypes.StateAgentStarted)).Msg("entering state")
	o.startedAt = time.Now()

	wait := o.cfg.InitialCheckInterval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-o.stopCh:
			timer.Stop()
			o.setState(otatypes.StateExiting)
			o.stopOnce.Do(func() { close(o.doneCh) })
			return nil
		case <-o.checkNow:
			timer.Stop()
		case <-timer.C:
		}

		o.runSession(ctx)

		select {
		case <-o.stopCh:
			o.setState(otatypes.StateExiting)
			o.stopOnce.Do(func() { close(o.doneCh) })
			return nil
		default:
		}
		o.stopRequested = false
		o.setState(otatypes.StateAgentWaiting)
		wait = o.cfg.NextCheckInterval
	}
}

// Stop signals the worker to end the current session (if any) and
// return from Run (spec §5 "agent_stop signals a shutdown bit and
// joins the worker").
func (o *Orchestrator) Stop() {
	o.stopRequested = true
	select {
	case <-o.stopCh:
	default:
		close(o.stopCh)
	}
	<-o.doneCh
}

// CheckNow sets the equivalent of the original agent's
// "get_update_now" bit: wakes the worker immediately instead of
// waiting for the next-check timer.
func (o *Orchestrator) CheckNow() {
	select {
	case o.checkNow <- struct{}{}:
	default:
	}
}

// Snapshot is the read-only accessor of spec §3 "Agent context",
// safe to call concurrently with Run (spec §5 "Shared resources").
func (o *Orchestrator) Snapshot() otatypes.AgentSnapshot {
	o.progressMu.Lock()
	defer o.progressMu.Unlock()
	return otatypes.AgentSnapshot{
		State:        o.state,
		LastError:    o.lastErr,
		Progress:     o.progress,
		StartedAt:    o.startedAt,
		RetryCount:   o.dataRetry,
		ConnectRetry: o.connectRetry,
	}
}

func (o *Orchestrator) setState(s otatypes.State) {
	o.progressMu.Lock()
	o.state = s
	o.progressMu.Unlock()
}

func (o *Orchestrator) setProgress(p otatypes.Progress) {
	o.progressMu.Lock()
	o.progress = p
	o.progressMu.Unlock()
}

func (o *Orchestrator) setLastErr(err error) {
	o.progressMu.Lock()
	o.lastErr = err
	o.progressMu.Unlock()
}

// runSession drives one full pass of the session chain, from
// START_UPDATE to either AGENT_WAITING (session ended, next-check
// rearmed by the caller) or EXITING (STOP requested mid-session).
func (o *Orchestrator) runSession(ctx context.Context) {
	timer := otametrics.NewTimer()
	o.connectRetry = 0
	o.dataRetry = 0
	o.jobPhaseErr = nil
	o.dataPhaseErr = nil
	o.setLastErr(nil)

	sessionLogger := otalog.WithSession(uuid.New().String())
	sessionLogger.Info().Msg("starting update session")

	o.machine.reset()
	o.transitionTo(ctx, otatypes.StateStartUpdate)

	for {
		current := o.machine.current()
		if current == otatypes.StateAgentWaiting || current == otatypes.StateExiting {
			break
		}

		spec, ok := stateTable[current]
		if !ok {
			otalog.WithState(string(current)).Error().Msg("no state spec registered")
			break
		}

		verdict := o.dispatchStateChange(current)

		var err error
		switch verdict {
		case otatypes.CallbackStop:
			o.stopRequested = true
			o.transitionTo(ctx, otatypes.StateExiting)
			continue
		case otatypes.CallbackAppSuccess:
			err = nil
		case otatypes.CallbackAppFailed:
			err = otaerr.New(otaerr.AppReturnedStop, "application callback forced failure")
		default:
			if spec.action != nil {
				err = spec.action(ctx, o)
			}
		}

		informational := false
		if code, ok := otaerr.CodeOf(err); ok && code.IsInformational() {
			informational = true
		}

		if err != nil && !informational {
			o.setLastErr(err)
			o.dispatchOutcome(current, otatypes.ReasonFailure, err)
		} else {
			o.dispatchOutcome(current, otatypes.ReasonSuccess, nil)
		}

		next := spec.next(o, err)
		if o.stopRequested {
			next = otatypes.StateExiting
		}
		o.transitionTo(ctx, next)
	}

	sessionLogger.Info().Str("ending_state", string(o.machine.current())).Msg("update session ended")
	timer.ObserveDuration(otametrics.SessionDuration)
}

// transitionTo fires the underlying FSM event and updates the
// externally visible state.
func (o *Orchestrator) transitionTo(ctx context.Context, next otatypes.State) {
	if err := o.machine.goTo(ctx, next); err != nil {
		otalog.WithState(string(next)).Error().Err(err).Msg("invalid transition")
	}
	o.setState(next)
	otametrics.StateTransitionsTotal.WithLabelValues(string(next)).Inc()
}

// dispatchStateChange invokes the application callback with
// reason=STATE_CHANGE on entry to state s (spec §4.1 step 1).
func (o *Orchestrator) dispatchStateChange(s otatypes.State) otatypes.CallbackResult {
	if o.callback == nil {
		return otatypes.CallbackContinue
	}
	return o.callback(Event{Reason: otatypes.ReasonStateChange, State: s, Progress: o.Snapshot().Progress})
}

// dispatchOutcome invokes the application callback with
// reason=SUCCESS or FAILURE after the state's action runs (spec §4.1
// step 2). The SUCCESS/FAILURE callback's return value is ignored: the
// spec's app_stop_next override only applies to the pre-callback per
// §4.1 step 1/3.
func (o *Orchestrator) dispatchOutcome(s otatypes.State, reason otatypes.CallbackReason, err error) {
	if o.callback == nil {
		return
	}
	o.callback(Event{Reason: reason, State: s, LastError: err, Progress: o.Snapshot().Progress})
}
