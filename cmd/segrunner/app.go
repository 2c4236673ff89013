package main

import (
	"fmt"
	"log"

	"github.com/lumenimaging/segrunner/internal/audit"
	"github.com/lumenimaging/segrunner/internal/config"
	"github.com/lumenimaging/segrunner/internal/convert"
	"github.com/lumenimaging/segrunner/internal/export"
	"github.com/lumenimaging/segrunner/internal/hostbridge"
	"github.com/lumenimaging/segrunner/internal/notify"
	"github.com/lumenimaging/segrunner/internal/orchestrator"
	"github.com/lumenimaging/segrunner/internal/procexec"
	"github.com/lumenimaging/segrunner/internal/pyenv"
	"github.com/lumenimaging/segrunner/internal/runstore"
)

// app bundles the wired pipeline and everything that needs closing.
type app struct {
	cfg  *config.Config
	orch *orchestrator.Orchestrator
	runs *runstore.Store

	auditW   *audit.Writer
	remote   *hostbridge.RemoteHost
	dispatch *hostbridge.SerialDispatcher
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// buildApp wires the pipeline from configuration. When a bridge URL is
// configured the host plugin provides store, viewer and task registry;
// otherwise imports land in a local file store and visualization is a
// no-op.
func buildApp(cfg *config.Config) (*app, error) {
	engine := procexec.NewEngine()
	resolver := &pyenv.PathResolver{
		Interpreter: cfg.Tool.Interpreter,
		VenvDir:     cfg.Tool.VirtualEnv,
	}

	runs, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		runs:     runs,
		auditW:   audit.NewWriter(cfg.General.AuditLogPath),
		dispatch: hostbridge.NewSerialDispatcher(),
	}

	var (
		store    hostbridge.Store
		viewers  hostbridge.ViewerProvider
		browser  hostbridge.Browser
		registry hostbridge.TaskRegistry
	)
	if cfg.Host.BridgeURL != "" {
		remote, err := hostbridge.Dial(cfg.Host.BridgeURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to host bridge: %w", err)
		}
		a.remote = remote
		store, viewers, browser, registry = remote, remote, remote, remote
	} else {
		headless := &hostbridge.HeadlessHost{
			Store: hostbridge.FileStore{Root: cfg.General.StoreDir},
		}
		store, viewers, browser, registry = headless, headless, headless, headless
	}

	var converter *convert.Converter
	if cfg.Conversion.EnableNIfTI {
		rt, err := resolver.Resolve()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("nifti conversion is enabled but %w", err)
		}
		converter = &convert.Converter{Engine: engine, Runtime: rt}
	}

	a.orch = &orchestrator.Orchestrator{
		Exporter: &export.DirectoryExporter{WorkRoot: cfg.General.WorkRoot},
		Resolver: resolver,
		Engine:   engine,
		Importer: &hostbridge.Importer{Store: store, Dispatch: a.dispatch},
		Visualizer: &hostbridge.Visualizer{
			Viewers: viewers,
			Browser: browser,
			Waiter: &hostbridge.RegistryPoller{
				Registry: registry,
				Interval: cfg.Visualization.PollInterval(),
				Timeout:  cfg.Visualization.PollTimeout(),
			},
			Dispatch: a.dispatch,
		},
		Converter:   converter,
		Runs:        runs,
		Audit:       a.auditW,
		Notifier:    buildNotifier(cfg),
		EnableNIfTI: cfg.Conversion.EnableNIfTI,
	}
	return a, nil
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func (a *app) Close() {
	if a.remote != nil {
		a.remote.Close()
	}
	a.dispatch.Close()
	a.auditW.Close()
	if err := a.runs.Close(); err != nil {
		log.Printf("[segrunner] closing run database: %v", err)
	}
}
