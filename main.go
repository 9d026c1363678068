package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/monocam/cmd"
	"github.com/smazurov/monocam/internal/api"
	"github.com/smazurov/monocam/internal/camera"
	"github.com/smazurov/monocam/internal/config"
	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/diagnostics"
	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/led"
	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/metrics/exporters"
	"github.com/smazurov/monocam/internal/nats"
	"github.com/smazurov/monocam/internal/params"
	"github.com/smazurov/monocam/internal/systemd"
	"github.com/smazurov/monocam/internal/transport"
	"github.com/smazurov/monocam/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Camera parameter file, watched for dynamic changes. Defaults to the config file.
	ParamsFile string `help:"File holding the [camera] parameter table" default:"" toml:"node.params_file" env:"PARAMS_FILE"`

	// Node settings
	DiagnosticsPeriod string `help:"Diagnostics job period" default:"1s" toml:"diagnostics.period" env:"DIAGNOSTICS_PERIOD"`
	ShutdownTimeout   string `help:"Time allowed for the camera loops to exit" default:"2s" toml:"node.shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// NATS settings
	NatsEnabled  bool   `help:"Publish channels on NATS" default:"true" toml:"nats.enabled" env:"NATS_ENABLED"`
	NatsURL      string `help:"External NATS server URL, empty to run an embedded server" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsHost     string `help:"Embedded NATS server host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NatsChannels string `help:"Comma separated channels bridged to NATS" default:"color,gray,imu,temperature" toml:"nats.channels" env:"NATS_CHANNELS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Features settings
	FeaturesLEDControl bool `help:"Enable LED control" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`

	// Logging settings
	LoggingLevel       string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat      string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera      string `help:"Camera node logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingVideo       string `help:"Video loop logging level" default:"info" toml:"logging.video" env:"LOGGING_VIDEO"`
	LoggingSensors     string `help:"Sensor loop logging level" default:"info" toml:"logging.sensors" env:"LOGGING_SENSORS"`
	LoggingStreaming   string `help:"Stream source logging level" default:"info" toml:"logging.streaming" env:"LOGGING_STREAMING"`
	LoggingDiagnostics string `help:"Diagnostics logging level" default:"info" toml:"logging.diagnostics" env:"LOGGING_DIAGNOSTICS"`
	LoggingNats        string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
	LoggingAPI         string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				camera.ModuleCamera:    opts.LoggingCamera,
				camera.ModuleVideo:     opts.LoggingVideo,
				camera.ModuleSensors:   opts.LoggingSensors,
				camera.ModuleStreaming: opts.LoggingStreaming,
				"diagnostics":          opts.LoggingDiagnostics,
				"nats":                 opts.LoggingNats,
				"api":                  opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")
		logger.Info("Starting monocam", "version", version.String())

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		var app *application
		hooks.OnStart(func() {
			var err error
			app, err = newApplication(opts, eventBus, logger)
			if err != nil {
				logger.Error("Failed to initialize", "error", err)
				os.Exit(1)
			}
			if err := app.run(); err != nil {
				logger.Error("Camera node failed", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if app != nil {
				app.shutdown()
			}
		})
	})

	cli.Root().Use = "monocam"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateParamsCmd())

	// Run the CLI
	cli.Run()
}

// application holds the running components of the node.
type application struct {
	opts     *Options
	logger   *slog.Logger
	eventBus *events.Bus

	store    *params.Store
	gate     *params.Gate
	hub      *transport.Hub
	node     *camera.Node
	notifier *systemd.Notifier

	natsServer *nats.Server
	publisher  *nats.Publisher
	bridge     *nats.Bridge
	watcher    *config.Watcher[map[string]any]
	ledManager *led.Manager
	server     *api.Server

	drain        time.Duration
	shutdownOnce sync.Once
}

func newApplication(opts *Options, eventBus *events.Bus, logger *slog.Logger) (*application, error) {
	app := &application{
		opts:     opts,
		logger:   logger,
		eventBus: eventBus,
		drain:    parseDuration(opts.ShutdownTimeout, 2*time.Second, logger),
	}

	paramsPath := opts.ParamsFile
	if paramsPath == "" {
		paramsPath = opts.Config
	}
	overrides, err := config.LoadCameraParameters(paramsPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		logger.Info("No parameter file, using defaults", "path", paramsPath)
		overrides = map[string]any{}
	}

	app.store = params.NewStore(overrides, logging.GetLogger("params"))
	app.gate = params.NewGate(app.store)
	cfg := camera.DeclareParameters(app.store)

	adapter, err := device.New(cfg.Source)
	if err != nil {
		return nil, err
	}

	app.hub = transport.NewHub(logging.GetLogger("transport"))
	app.node, err = camera.New(camera.Options{
		Store:     app.store,
		Adapter:   adapter,
		Transport: app.hub,
		Events:    eventBus,
	})
	if err != nil {
		return nil, err
	}
	if unused := app.store.UnusedOverrides(); len(unused) > 0 {
		logger.Warn("Unknown camera parameters ignored", "names", unused)
	}

	// The diagnostics job pings the watchdog at least twice per watchdog interval.
	app.notifier = systemd.NewNotifier(logging.GetLogger("systemd"))
	agg := diagnostics.NewAggregator(app.node)
	monitor := diagnostics.NewMonitor(diagnostics.MonitorOptions{
		Aggregator: agg,
		Events:     eventBus,
		Watchdog:   app.notifier,
		Logger:     logging.GetLogger("diagnostics"),
	})
	period := app.notifier.PingPeriod(parseDuration(opts.DiagnosticsPeriod, time.Second, logger))
	if err := app.node.AddJob("diagnostics", period, func() { monitor.Run() }); err != nil {
		return nil, err
	}

	var ledController led.Controller
	if opts.FeaturesLEDControl {
		logger.Info("LED control enabled, initializing")
		ledController = led.New(logger)
		app.ledManager = led.NewManager(ledController, eventBus, logging.GetLogger("led"))
	}

	if opts.NatsEnabled {
		app.setupNATS(cfg.CameraName)
	}

	if paramsPath != "" {
		if _, statErr := os.Stat(paramsPath); statErr == nil {
			app.watcher = config.NewConfigWatcher(paramsPath, config.LoadCameraParameters, logging.GetLogger("config"))
			app.watcher.OnReload(func(values map[string]any) {
				if res := app.gate.ApplyFile(values); res.Err() != nil {
					logger.Warn("Parameter file changes rejected", "error", res.Err())
				}
			})
		}
	}

	apiOpts := &api.Options{
		AuthUsername:        opts.AuthUsername,
		AuthPassword:        opts.AuthPassword,
		EventBus:            eventBus,
		OnDiagnosticRequest: agg.Snapshot,
		Node:                app.node,
		Store:               app.store,
		Gate:                app.gate,
		Channels:            app.hub,
		PrometheusHandler:   exporters.HTTPHandler(),
	}
	if app.bridge != nil {
		apiOpts.Bridge = app.bridge
	}
	if ledController != nil {
		apiOpts.LEDController = ledController
	}
	app.server = api.NewServer(apiOpts)

	return app, nil
}

// setupNATS starts the embedded broker when no external URL is configured
// and bridges the hub channels. The node keeps running without NATS.
func (a *application) setupNATS(cameraName string) {
	natsLog := logging.GetLogger("nats")

	url := a.opts.NatsURL
	if url == "" {
		a.natsServer = nats.NewServer(nats.ServerOptions{
			Host:   a.opts.NatsHost,
			Port:   a.opts.NatsPort,
			Logger: natsLog,
		})
		if err := a.natsServer.Start(); err != nil {
			natsLog.Error("Failed to start embedded NATS server", "error", err)
			a.natsServer = nil
			return
		}
		url = a.natsServer.ClientURL()
	}

	a.publisher = nats.NewPublisher(url, "monocam-"+cameraName, natsLog)
	if err := a.publisher.Connect(); err != nil {
		natsLog.Warn("NATS unavailable, channels will not be bridged until it reconnects", "url", url, "error", err)
	}
	if err := a.publisher.ServeParameters(cameraName, a.gate); err != nil {
		natsLog.Warn("Parameter requests over NATS disabled", "error", err)
	}

	a.bridge = nats.NewBridge(a.publisher, a.hub, a.eventBus, nats.BridgeOptions{
		Camera:   cameraName,
		Channels: splitList(a.opts.NatsChannels),
		Logger:   natsLog,
	})
}

// run opens the camera and serves the API until the node stops or
// shutdown is called.
func (a *application) run() error {
	if a.ledManager != nil {
		a.ledManager.Start()
	}
	if a.bridge != nil {
		a.bridge.Start()
	}
	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			a.logger.Warn("Parameter file watcher disabled", "error", err)
			a.watcher = nil
		}
	}

	ctx := context.Background()
	if err := a.node.Start(ctx); err != nil {
		a.notifier.Status("camera open failed")
		a.shutdown()
		return err
	}
	a.notifier.Ready()
	a.notifier.Status("acquiring")

	go func() {
		<-a.node.Done()
		a.logger.Info("Camera node stopped", "reason", a.node.Status().StopReason)
		a.shutdown()
	}()

	a.logger.Info("Starting HTTP server", "port", a.opts.Port)
	if err := a.server.Start(a.opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.shutdown()
		return err
	}
	a.shutdown()

	if st := a.node.Status(); st.Faulted {
		return errors.New(st.StopReason)
	}
	return nil
}

// shutdown stops every component once. Concurrent callers wait for the
// first call to finish.
func (a *application) shutdown() {
	a.shutdownOnce.Do(func() {
		a.notifier.Stopping()

		if err := a.server.Stop(); err != nil {
			a.logger.Error("Error stopping HTTP server", "error", err)
		}
		if a.watcher != nil {
			if err := a.watcher.Stop(); err != nil {
				a.logger.Warn("Error stopping parameter watcher", "error", err)
			}
		}
		if err := a.node.Stop(a.drain); err != nil {
			a.logger.Error("Camera node did not stop cleanly", "error", err)
		}
		if a.bridge != nil {
			a.bridge.Stop()
		}
		if a.publisher != nil {
			a.publisher.Close()
		}
		if a.natsServer != nil {
			a.natsServer.Stop()
		}
		if a.ledManager != nil {
			a.ledManager.Stop()
		}
	})
}

func parseDuration(s string, fallback time.Duration, logger *slog.Logger) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logger.Warn("Invalid duration, using default", "value", s, "default", fallback)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
