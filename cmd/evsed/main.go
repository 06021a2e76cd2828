// Command evsed is the EVSE firmware core daemon: it wires together the
// pilot sampler, safety monitor, IEC 61851 FSM, relay driver, network
// manager, CSMS client, OCPP message adapter, and connector/charger
// coordinators, then runs its four cooperative tasks.
//
// Grounded on mash-go's cmd/mash-device main, which performs the
// same construct-then-run-cooperative-loops shape for its own domain.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/authstore"
	"github.com/pazzk-labs/evse-go/pkg/charger"
	"github.com/pazzk-labs/evse-go/pkg/checkpoint"
	"github.com/pazzk-labs/evse-go/pkg/config"
	"github.com/pazzk-labs/evse-go/pkg/connector"
	"github.com/pazzk-labs/evse-go/pkg/csms"
	"github.com/pazzk-labs/evse-go/pkg/evlog"
	"github.com/pazzk-labs/evse-go/pkg/iec61851"
	"github.com/pazzk-labs/evse-go/pkg/metricfs"
	"github.com/pazzk-labs/evse-go/pkg/network"
	"github.com/pazzk-labs/evse-go/pkg/ocppmsg"
	"github.com/pazzk-labs/evse-go/pkg/pilot"
	"github.com/pazzk-labs/evse-go/pkg/relay"
	"github.com/pazzk-labs/evse-go/pkg/safety"
	"github.com/pazzk-labs/evse-go/pkg/secret"
)

func main() {
	dataDir := flag.String("data-dir", "/var/lib/evse", "base directory for config, checkpoint, logs, metrics, and secrets")
	configPath := flag.String("config", "", "path to the packed configuration file (defaults to <data-dir>/config.bin)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(*logLevel))
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger := evlog.NewMultiLogger(evlog.NewSlogAdapter(slogger))

	if *configPath == "" {
		*configPath = filepath.Join(*dataDir, "config.bin")
	}

	layout, err := config.LoadFile(*configPath)
	if err != nil {
		slogger.Warn("no existing configuration, starting from defaults", "error", err)
		layout = config.Layout{}
		config.PutString(layout.DeviceID[:], "EVSE-0000")
		layout.Net.PingInterval = 300
		layout.Net.HealthCheckInterval = 60
		config.PutString(layout.Net.ServerURL[:], "wss://localhost/ocpp")
		layout.OCPP.Version = 16
	}
	appConfig := config.New(layout, config.FileSaveFunc(*configPath))

	cpStore := checkpoint.NewStore(filepath.Join(*dataDir, "checkpoint.json"))
	if _, err := cpStore.Load(); err != nil {
		slogger.Error("failed to load checkpoint", "error", err)
		os.Exit(1)
	}

	metrics, err := metricfs.New(metricfs.Config{Dir: filepath.Join(*dataDir, "metrics")})
	if err != nil {
		slogger.Error("failed to open metric filesystem", "error", err)
		os.Exit(1)
	}

	_ = secret.NewFileStore(filepath.Join(*dataDir, "secrets")) // TLS client identity, wired once board cert provisioning lands

	authStore := authstore.New(filepath.Join(*dataDir, "authorize.json"))
	if err := authStore.Load(); err != nil {
		slogger.Warn("failed to load authorization store", "error", err)
	}

	now := time.Now
	rng := rand.New(rand.NewSource(now().UnixNano()))

	r := relay.NewRelay(relay.Config{}, &gpioRelayDriver{}, nil)
	pwmFSM := iec61851.New(&gpioPWM{}, r, 50, now)

	pilotProc := pilot.NewProcessor(pilot.Config{
		ScanInterval:        10,
		SampleCount:         60,
		CutoffVoltageMV:     2500,
		NoiseToleranceMV:    100,
		MaxTransitionClocks: 10,
		Boundaries:          pilot.DefaultBoundaries(),
	}, &adcReader{}, logger, nil)

	safetyMon := safety.NewMonitor(60, now)

	netMgr := network.NewManager(&netlinkInterface{}, &ntpSyncer{}, "csms.example.com", now)

	adapter := ocppmsg.NewAdapter(nil, 16, now, rng, logger)
	client := csms.New(csms.Config{
		Dialer: websocketDialer{},
		URL:    config.StringFrom(appConfig.Snapshot().Net.ServerURL[:]),
		Now:    now,
		Rng:    rng,
		Logger: logger,
		OnMessage: func(ctx context.Context, data []byte) error {
			return adapter.HandleIncoming(ctx, 0, data)
		},
	})
	adapter = ocppmsg.NewAdapter(client, 16, now, rng, logger)

	conn := connector.New(connector.Config{
		ID:      1,
		PWM:     pwmFSM,
		Adapter: adapter,
		Store:   cpStore,
		Logger:  logger,
		Now:     now,
	})

	ocppmsg.RegisterStandardHandlers(adapter, conn, nil, authStore)

	chg := charger.New(charger.Config{
		Units:   []charger.ConnectorUnit{{Connector: conn, Pilot: pwmFSM}},
		Adapter: adapter,
		Logger:  logger,
		Now:     now,
		Vendor:  config.StringFrom(appConfig.Snapshot().OCPP.Vendor[:]),
		Model:   config.StringFrom(appConfig.Snapshot().OCPP.Model[:]),
		OnRebootRequired: func() {
			slogger.Warn("configuration change requires reboot; exiting for supervisor restart")
			os.Exit(0)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		slogger.Warn("initial CSMS connect failed, will retry from the network task", "error", err)
	} else {
		go func() { _ = client.ReadLoop(ctx) }()
	}

	runCooperativeTasks(ctx, chg, pilotProc, safetyMon, netMgr, adapter, client, metrics, logger)
}

// buildPilotInput assembles one connector's iec61851.Input for the next
// Step call from the pilot processor's most recently published window
// and the safety monitor's latest verdict. CommandedDuty, PWMPresent,
// and SupplyingPower come from the FSM's own current state rather than
// the window, since those reflect what the FSM itself last commanded.
// DutyWithdrawn is left at its zero value: this host build has no
// curtailment or load-shed signal source, so the FSM is never told to
// withdraw duty on its own account.
func buildPilotInput(fsm *iec61851.FSM, pilotProc *pilot.Processor, safetyMon *safety.Monitor) iec61851.Input {
	in := iec61851.Input{
		CommandedDuty:  fsm.CommandedDuty(),
		PWMPresent:     fsm.PWMPresent(),
		SupplyingPower: fsm.SupplyingPower(),
	}

	if w := pilotProc.Cache().Current(); w != nil {
		in.Pilot = w.Classification
		in.MeasuredDuty = w.MeasuredDutyPct
	}

	verdict, _ := safetyMon.Check()
	switch verdict {
	case safety.EmergencyStop:
		in.EmergencyStop = true
	case safety.OK:
		in.InputPowerOK = true
		in.OutputPowerOK = true
	default:
		// Stale, SamplingError, AbnormalFrequency: leave input and output
		// power unconfirmed rather than asserting an emergency stop. With
		// InputPowerOK false the pilot FSM's evseError holds, so a
		// connector with no edges recorded yet faults.
	}

	return in
}

// runCooperativeTasks drives the four named tasks: the main
// runner (50ms), the pilot task (10ms), the network manager, and the
// metric save task (30min). Each runs in its own goroutine, standing in
// for the original's cooperative RTOS tasks; ordering guarantees are
// preserved by having the main runner read only published snapshots
// (pilot.Cache, safety.Monitor.Check) rather than shared mutable state.
func runCooperativeTasks(
	ctx context.Context,
	chg *charger.Charger,
	pilotProc *pilot.Processor,
	safetyMon *safety.Monitor,
	netMgr *network.Manager,
	adapter *ocppmsg.Adapter,
	client *csms.Client,
	metrics *metricfs.FS,
	logger evlog.Logger,
) {
	done := make(chan struct{}, 4)

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = pilotProc.Tick(ctx)
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inputs := make([]iec61851.Input, len(chg.Units()))
				for i, u := range chg.Units() {
					inputs[i] = buildPilotInput(u.Pilot, pilotProc, safetyMon)
				}
				_ = chg.Step(ctx, inputs)
				_ = adapter.Drain(ctx)
				adapter.CheckRetries()
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				netMgr.Tick(ctx)
				_ = client.Keepalive(ctx)
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := metrics.Append(metricfs.Sample{Timestamp: time.Now()}); err != nil {
					logger.Log(evlog.NewEvent(evlog.LayerConfig, evlog.DirectionInternal, "metric_save_error", err.Error()))
				}
			}
		}
	}()

	for i := 0; i < 4; i++ {
		<-done
	}
}
