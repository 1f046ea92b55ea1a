package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/ota-agent/internal/config"
	"github.com/cuemby/ota-agent/internal/control"
	"github.com/cuemby/ota-agent/internal/jobstore"
	"github.com/cuemby/ota-agent/internal/orchestrator"
	"github.com/cuemby/ota-agent/internal/otalog"
	"github.com/cuemby/ota-agent/internal/storage"
	"github.com/cuemby/ota-agent/internal/storage/flash"
	"github.com/cuemby/ota-agent/internal/transport"
	"github.com/cuemby/ota-agent/internal/transport/httpadapter"
	"github.com/cuemby/ota-agent/internal/transport/pubsubadapter"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

func init() {
	runCmd.Flags().String("config", "", "path to the agent's YAML config file (required)")
	runCmd.Flags().String("data-dir", "/var/lib/ota-agent", "directory for the agent's durable job store")
	runCmd.Flags().String("control-addr", "127.0.0.1:7777", "loopback address the control surface listens on")
	runCmd.Flags().String("health-addr", "127.0.0.1:7778", "address the health/ready/metrics HTTP server listens on")
	runCmd.Flags().Uint32("row-size", 4096, "flash device erase/program row size, in bytes, for the in-memory flash backend")
	runCmd.Flags().Uint32("slot-size", 4*1024*1024, "size, in bytes, of each secondary (staging) flash slot")
	_ = runCmd.MarkFlagRequired("config")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent's update loop",
	Long: `Run loads the agent's configuration, opens its durable job store,
and starts the dedicated worker that polls or subscribes for update jobs,
downloads and verifies firmware images, and reports results, alongside a
loopback control surface and a health/metrics HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := otalog.WithComponent("ota-agent")

		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		controlAddr, _ := cmd.Flags().GetString("control-addr")
		healthAddr, _ := cmd.Flags().GetString("health-addr")
		rowSize, _ := cmd.Flags().GetUint32("row-size")
		slotSize, _ := cmd.Flags().GetUint32("slot-size")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		store, err := jobstore.Open(dataDir)
		if err != nil {
			return fmt.Errorf("opening job store: %w", err)
		}
		defer store.Close()

		dev, areas := newFlashBackend(rowSize, slotSize)
		engine := storage.New(dev, areas, rowSize)

		tr, err := newTransport(cfg)
		if err != nil {
			return fmt.Errorf("configuring transport: %w", err)
		}

		orchCfg := orchestrator.Config{
			Board:                cfg.Board,
			Manufacturer:         cfg.Manufacturer,
			ManufacturerID:       cfg.ManufacturerID,
			Product:              cfg.Product,
			SerialNumber:         cfg.SerialNumber,
			RunningVersion:       cfg.RunningVersion,
			ConnectRetryMax:      cfg.ConnectRetries,
			DataDownloadRetryMax: cfg.MaxDownloadTries,
			RetryInterval:        cfg.RetryInterval,
			InitialCheckInterval: cfg.InitialCheckInterval,
			NextCheckInterval:    cfg.NextCheckInterval,
			RebootOnCompletion:   cfg.RebootUponCompletion,
			ValidateAfterReboot:  cfg.ValidateAfterReboot,
			GetAllAtOnce:         cfg.GetAllDataOneCall,
			CurrentConnection:    cfg.Connection,
			CurrentHost:          cfg.Host,
			CurrentPort:          cfg.Port,
			UseDirectFlow:        cfg.JobFlow == config.JobFlowDirect,
			DirectFile:           cfg.File,
		}

		// agent is captured by reference in the callback closure below;
		// it is assigned before the callback can ever fire (the worker
		// loop only starts once Run is called, after this function
		// returns from New).
		var agent *orchestrator.Orchestrator
		agent = orchestrator.New(orchCfg, orchestrator.Dependencies{
			JobTransport:    tr,
			DataTransport:   tr,
			ResultTransport: tr,
			Storage:         engine,
		}, jobStoreCallback(store, &agent, logger))

		ctrlServer := control.NewServer(agent)
		healthServer := control.NewHTTPServer(agent)

		errCh := make(chan error, 2)
		go func() {
			if err := ctrlServer.Start(controlAddr); err != nil {
				errCh <- fmt.Errorf("control server: %w", err)
			}
		}()
		go func() {
			if err := healthServer.Start(healthAddr); err != nil {
				errCh <- fmt.Errorf("health server: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		runErrCh := make(chan error, 1)
		go func() { runErrCh <- agent.Run(context.Background()) }()

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			agent.Stop()
			<-runErrCh
		case err := <-runErrCh:
			if err != nil {
				logger.Error().Err(err).Msg("worker exited")
			}
		case err := <-errCh:
			logger.Error().Err(err).Msg("server error")
			agent.Stop()
			<-runErrCh
		}

		ctrlServer.Stop()
		return nil
	},
}

// jobStoreCallback persists the durable half of the agent context
// (last error, retry counters, session history) to store on every
// terminal session outcome, answering the Open Question of whether
// that state survives an agent_stop/agent_start round-trip.
func jobStoreCallback(store *jobstore.Store, agent **orchestrator.Orchestrator, logger zerolog.Logger) orchestrator.Callback {
	return func(ev orchestrator.Event) otatypes.CallbackResult {
		switch ev.Reason {
		case otatypes.ReasonSuccess, otatypes.ReasonFailure:
			snap := (*agent).Snapshot()
			outcome := otatypes.OutcomeSuccess
			errText := ""
			if snap.LastError != nil {
				outcome = otatypes.OutcomeFailure
				errText = snap.LastError.Error()
			}
			if ev.State == otatypes.StateOTAComplete || ev.Reason == otatypes.ReasonFailure {
				if err := store.AppendHistory(jobstore.HistoryEntry{
					Outcome: outcome,
					Error:   errText,
				}); err != nil {
					logger.Error().Err(err).Msg("appending session history")
				}
			}
			if err := store.Save(jobstore.State{
				LastError:    errText,
				LastOutcome:  outcome,
				RetryCount:   snap.RetryCount,
				ConnectRetry: snap.ConnectRetry,
			}); err != nil {
				logger.Error().Err(err).Msg("saving agent state")
			}
		}
		return otatypes.CallbackContinue
	}
}

// newFlashBackend builds the two-secondary-slot flash map the storage
// engine writes into. Only flash.MemDevice exists in-tree as a concrete
// flash.Device; a real board would substitute a hardware-backed
// implementation of the same interface here.
func newFlashBackend(rowSize, slotSize uint32) (flash.Device, storage.Areas) {
	areas := storage.Areas{
		Secondary0: flash.Area{ID: flash.AreaSecondarySlot0, Device: flash.DeviceInternal, Offset: 0, Size: slotSize},
		Secondary1: flash.Area{ID: flash.AreaSecondarySlot1, Device: flash.DeviceInternal, Offset: slotSize, Size: slotSize},
	}
	dev := flash.NewMemDevice(rowSize, []flash.Area{areas.Secondary0, areas.Secondary1})
	return dev, areas
}

// newTransport selects the wire transport named by cfg.Connection
// (spec §4.4 HTTP/HTTPS, §4.5 MQTT). The wireless-link adapter has no
// Connection-enum value of its own and is wired up separately by
// deployments that need it.
func newTransport(cfg config.Config) (transport.Transport, error) {
	switch cfg.Connection {
	case otatypes.ConnectionHTTP, otatypes.ConnectionHTTPS:
		return httpadapter.New(httpadapter.Config{
			Host:    cfg.Host,
			Port:    cfg.Port,
			UseTLS:  cfg.Connection == otatypes.ConnectionHTTPS,
			JobFile: cfg.File,
		}), nil
	case otatypes.ConnectionMQTT:
		return pubsubadapter.New(pubsubadapter.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			ClientIDPrefix:  cfg.ClientIDPrefix,
			CleanSession:    cfg.CleanSession,
			Keepalive:       uint16(cfg.KeepaliveSeconds),
			CompanyPrepend:  cfg.CompanyPrepend,
			Board:           cfg.Board,
			PublisherListen: "listen",
			RunningVersion:  cfg.RunningVersion,
			GetAllAtOnce:    cfg.GetAllDataOneCall,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported connection type %q", cfg.Connection)
	}
}
