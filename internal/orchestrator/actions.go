package orchestrator

import (
	"context"
	"time"

	"github.com/cuemby/ota-agent/internal/job"
	"github.com/cuemby/ota-agent/internal/otaerr"
	"github.com/cuemby/ota-agent/internal/otametrics"
	"github.com/cuemby/ota-agent/internal/transport"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// stateSpec is one row of the transition table of spec §4.1: an action
// to run on entry, and a next function resolving success_next /
// failure_next / the informational diverts from the action's result.
type stateSpec struct {
	action func(ctx context.Context, o *Orchestrator) error
	next   func(o *Orchestrator, err error) otatypes.State
}

// stateTable is the declarative transition table of spec §4.1. Most
// rows resolve next with a plain success/failure pair; the handful
// with retry or divert semantics use a closure instead.
var stateTable = map[otatypes.State]stateSpec{
	otatypes.StateStartUpdate: {
		action: actionStartUpdate,
		next: func(o *Orchestrator, err error) otatypes.State {
			if code, ok := otaerr.CodeOf(err); ok && code == otaerr.UseDirectFlow {
				return otatypes.StateStorageOpen
			}
			if err != nil {
				return otatypes.StateAgentWaiting
			}
			return otatypes.StateJobConnect
		},
	},
	otatypes.StateJobConnect: {
		action: actionJobConnect,
		next:   simple(otatypes.StateJobDownload, otatypes.StateAgentWaiting),
	},
	otatypes.StateJobDownload: {
		action: actionJobDownload,
		next:   func(*Orchestrator, error) otatypes.State { return otatypes.StateJobDisconnect },
	},
	otatypes.StateJobDisconnect: {
		action: actionJobDisconnect,
		next: func(o *Orchestrator, err error) otatypes.State {
			if o.jobPhaseErr != nil {
				return otatypes.StateAgentWaiting
			}
			return otatypes.StateJobParse
		},
	},
	otatypes.StateJobParse: {
		action: actionJobParse,
		next: func(o *Orchestrator, err error) otatypes.State {
			if code, ok := otaerr.CodeOf(err); ok && code == otaerr.ChangingServer {
				return otatypes.StateJobRedirect
			}
			if err != nil {
				return otatypes.StateResultConnect
			}
			return otatypes.StateStorageOpen
		},
	},
	otatypes.StateJobRedirect: {
		action: actionJobRedirect,
		next:   simple(otatypes.StateStorageOpen, otatypes.StateResultConnect),
	},
	otatypes.StateStorageOpen: {
		action: actionStorageOpen,
		next:   simple(otatypes.StateDataConnect, otatypes.StateResultConnect),
	},
	otatypes.StateDataConnect: {
		action: actionDataConnect,
		next:   simple(otatypes.StateDataDownload, otatypes.StateAgentWaiting),
	},
	otatypes.StateDataDownload: {
		action: actionDataDownload,
		next:   func(*Orchestrator, error) otatypes.State { return otatypes.StateDataDisconnect },
	},
	otatypes.StateDataDisconnect: {
		action: actionDataDisconnect,
		next: func(o *Orchestrator, err error) otatypes.State {
			if o.dataPhaseErr == nil {
				return otatypes.StateVerify
			}
			o.dataRetry++
			if o.dataRetry <= o.cfg.DataDownloadRetryMax {
				otametrics.RetriesTotal.WithLabelValues("data_download").Inc()
				return otatypes.StateStorageOpen
			}
			return otatypes.StateResultConnect
		},
	},
	otatypes.StateVerify: {
		action: actionVerify,
		next:   simple(otatypes.StateResultRedirect, otatypes.StateResultConnect),
	},
	otatypes.StateResultRedirect: {
		action: actionResultRedirect,
		next: func(o *Orchestrator, err error) otatypes.State {
			if code, ok := otaerr.CodeOf(err); ok && code == otaerr.UseDirectFlow {
				return otatypes.StateOTAComplete
			}
			return otatypes.StateResultConnect
		},
	},
	otatypes.StateResultConnect: {
		action: actionResultConnect,
		next:   simple(otatypes.StateResultSend, otatypes.StateOTAComplete),
	},
	otatypes.StateResultSend: {
		action: actionResultSend,
		next:   simple(otatypes.StateResultResponse, otatypes.StateResultDisconnect),
	},
	otatypes.StateResultResponse: {
		action: actionResultResponse,
		next:   func(*Orchestrator, error) otatypes.State { return otatypes.StateResultDisconnect },
	},
	otatypes.StateResultDisconnect: {
		action: actionResultDisconnect,
		next:   func(*Orchestrator, error) otatypes.State { return otatypes.StateOTAComplete },
	},
	otatypes.StateOTAComplete: {
		action: actionOTAComplete,
		next:   func(*Orchestrator, error) otatypes.State { return otatypes.StateAgentWaiting },
	},
}

// simple builds a next func for the common success/failure pair that
// doesn't consult the error's code.
func simple(onSuccess, onFailure otatypes.State) func(*Orchestrator, error) otatypes.State {
	return func(_ *Orchestrator, err error) otatypes.State {
		if err != nil {
			return onFailure
		}
		return onSuccess
	}
}

func actionStartUpdate(ctx context.Context, o *Orchestrator) error {
	if o.cfg.UseDirectFlow {
		o.job = otatypes.Job{File: o.cfg.DirectFile}
		return otaerr.New(otaerr.UseDirectFlow, "direct flow configured, skipping job fetch")
	}
	return nil
}

func actionJobConnect(ctx context.Context, o *Orchestrator) error {
	return connectWithRetry(ctx, o, "job_connect", o.jobTransport)
}

func actionJobDownload(ctx context.Context, o *Orchestrator) error {
	raw, err := o.jobTransport.DownloadJob(ctx, transport.JobRequest{
		Manufacturer:   o.cfg.Manufacturer,
		ManufacturerID: o.cfg.ManufacturerID,
		Product:        o.cfg.Product,
		SerialNumber:   o.cfg.SerialNumber,
		Board:          o.cfg.Board,
		RunningVersion: o.cfg.RunningVersion,
	})
	o.jobPhaseErr = err
	if err != nil {
		return err
	}

	parsed, outcome, perr := job.Parse(raw, job.CurrentConnection{
		RunningVersion: o.cfg.RunningVersion,
		Board:          o.cfg.Board,
		Connection:     o.cfg.CurrentConnection,
		Host:           o.cfg.CurrentHost,
		Port:           o.cfg.CurrentPort,
	})
	if perr != nil {
		o.job = otatypes.Job{}
		o.jobParseErr = perr
		return nil // defer the failure to JOB_PARSE, matching the state table's own JOB_PARSE row
	}

	o.job = parsed
	o.jobOutcome = outcome
	o.jobParseErr = nil
	return nil
}

func actionJobDisconnect(ctx context.Context, o *Orchestrator) error {
	return o.jobTransport.Disconnect(ctx)
}

// actionJobParse re-surfaces the parse-time error recorded by
// actionJobDownload (spec §4.2): JOB_DOWNLOAD's own success/failure is
// purely about the transport fetch, parsing and gating happen here.
func actionJobParse(ctx context.Context, o *Orchestrator) error {
	if o.jobParseErr != nil {
		return o.jobParseErr
	}
	if o.jobOutcome == job.OutcomeChangingServer {
		return otaerr.New(otaerr.ChangingServer, "job document redirects to a different server")
	}
	return nil
}

// actionJobRedirect would reconfigure the data/result transports for
// the job's announced server. Building a live protocol-specific
// adapter for an arbitrary host needs adapter construction parameters
// (credentials, TLS, broker vs. server) this package doesn't own; that
// needs a transport-factory hook supplied by the wiring layer. Until
// then this logs the redirect target and continues against the
// transports it was given.
func actionJobRedirect(ctx context.Context, o *Orchestrator) error {
	o.logger.Info().Str("broker", o.job.Broker).Msg("job document redirects to a different server; continuing on configured transports")
	return nil
}

func actionStorageOpen(ctx context.Context, o *Orchestrator) error {
	return o.storage.Open(o.totalSize, o.cfg.RebootOnCompletion, o.cfg.ValidateAfterReboot)
}

func actionDataConnect(ctx context.Context, o *Orchestrator) error {
	return connectWithRetry(ctx, o, "data_connect", o.dataTransport)
}

func actionDataDownload(ctx context.Context, o *Orchestrator) error {
	req := transport.DataRequest{
		File:            o.job.File,
		TotalImageSize:  o.totalSize,
		UniqueTopicName: o.job.UniqueTopicName,
		GetAllAtOnce:    o.cfg.GetAllAtOnce,
	}

	err := o.dataTransport.DownloadData(ctx, req, func(wr otatypes.WriteRequest) error {
		if werr := o.storage.Write(wr.Offset, wr.Payload); werr != nil {
			return werr
		}

		written := o.storage.TotalBytesWritten()
		o.totalSize = maxU32(o.totalSize, wr.Offset+uint32(len(wr.Payload)))
		o.setProgress(otatypes.Progress{
			TotalSize:    o.totalSize,
			BytesWritten: written,
			Percentage:   percentage(written, o.totalSize),
		})
		return nil
	})
	o.dataPhaseErr = err
	if err != nil {
		return err
	}

	if err := o.storage.Close(); err != nil {
		o.dataPhaseErr = err
		return err
	}
	return nil
}

func actionDataDisconnect(ctx context.Context, o *Orchestrator) error {
	return o.dataTransport.Disconnect(ctx)
}

func actionVerify(ctx context.Context, o *Orchestrator) error {
	return o.storage.Verify()
}

// actionResultRedirect decides whether result reporting applies at all
// (spec §4.1: "returned from RESULT_REDIRECT means skip result
// reporting").
func actionResultRedirect(ctx context.Context, o *Orchestrator) error {
	if o.cfg.UseDirectFlow {
		return otaerr.New(otaerr.UseDirectFlow, "direct flow configured, skipping result report")
	}
	return nil
}

func actionResultConnect(ctx context.Context, o *Orchestrator) error {
	return connectWithRetry(ctx, o, "result_connect", o.resultTransport)
}

func actionResultSend(ctx context.Context, o *Orchestrator) error {
	outcome := otatypes.OutcomeSuccess
	detail := "update verified and staged"
	o.progressMu.Lock()
	sessionErr := o.lastErr
	o.progressMu.Unlock()
	if sessionErr != nil {
		outcome = otatypes.OutcomeFailure
		detail = sessionErr.Error()
	}

	err := o.resultTransport.ReportResult(ctx, transport.ResultReport{
		File:    o.job.File,
		Outcome: outcome,
		Detail:  detail,
	})
	otametrics.SessionsTotal.WithLabelValues(string(outcome)).Inc()
	return err
}

// actionResultResponse exists only to give the response phase its own
// STATE_CHANGE callback (spec's state set lists it separately); the
// adapters' ReportResult already blocks for the response (or its
// absence, per spec §4.4's NO_RESPONSE-is-success rule).
func actionResultResponse(ctx context.Context, o *Orchestrator) error {
	return nil
}

func actionResultDisconnect(ctx context.Context, o *Orchestrator) error {
	return o.resultTransport.Disconnect(ctx)
}

func actionOTAComplete(ctx context.Context, o *Orchestrator) error {
	o.progressMu.Lock()
	failed := o.lastErr != nil
	o.progressMu.Unlock()
	if !failed && o.cfg.RebootOnCompletion {
		o.logger.Info().Bool("reboot_on_completion", true).Msg("update staged successfully")
	}
	return nil
}

// connectWithRetry implements the JOB_CONNECT / DATA_CONNECT /
// RESULT_CONNECT retry policy of spec §4.1: one initial attempt plus up
// to ConnectRetryMax retries, RetryInterval apart, collapsed into a single
// state-table row rather than physically bouncing the FSM back through
// AGENT_WAITING between attempts (see DESIGN.md).
func connectWithRetry(ctx context.Context, o *Orchestrator, phase string, t transport.Transport) error {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.ConnectRetryMax; attempt++ {
		if attempt > 0 {
			otametrics.RetriesTotal.WithLabelValues(phase).Inc()
			select {
			case <-time.After(o.cfg.RetryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := t.Connect(ctx); err != nil {
			lastErr = err
			o.connectRetry = attempt + 1
			continue
		}
		return nil
	}
	return otaerr.Wrap(otaerr.AppExceededRetries, phase+" exceeded retry limit", lastErr)
}

func percentage(written, total uint32) float64 {
	if total == 0 {
		return 0
	}
	return float64(written) / float64(total) * 100
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
