package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/veesix-networks/osvlease/internal/controller"
	"github.com/veesix-networks/osvlease/pkg/alarm"
	"github.com/veesix-networks/osvlease/pkg/component"
	"github.com/veesix-networks/osvlease/pkg/config"
	"github.com/veesix-networks/osvlease/pkg/config/system"
	"github.com/veesix-networks/osvlease/pkg/events/local"
	"github.com/veesix-networks/osvlease/pkg/lease"
	"github.com/veesix-networks/osvlease/pkg/logger"
	"github.com/veesix-networks/osvlease/pkg/native/inproc"
	"github.com/veesix-networks/osvlease/pkg/netconf"
	"github.com/veesix-networks/osvlease/pkg/opdb"
	"github.com/veesix-networks/osvlease/pkg/opdb/sqlite"
	"github.com/veesix-networks/osvlease/pkg/version"
	"github.com/veesix-networks/osvlease/pkg/wakelock"
	_ "github.com/veesix-networks/osvlease/plugins/all"
)

func configureLogging(cfg *config.Config) {
	components := make(map[string]logger.LogLevel, len(cfg.Logging.Components))
	for name, lvl := range cfg.Logging.Components {
		components[name] = logger.LogLevel(lvl)
	}
	logger.Configure(cfg.Logging.Format, logger.LogLevel(cfg.Logging.Level), components)
}

// newWakeLocks returns the per-interface renewal wake-locks, named
// <name>:<interface>.
func newWakeLocks(cfg system.WakeLockConfig) *wakelock.Set {
	var backend wakelock.Backend = wakelock.Noop{}
	if cfg.Backend == system.WakeLockBackendSysfs {
		sysfs := wakelock.NewSysfs(cfg.SysfsRoot)
		if sysfs.Available() {
			backend = sysfs
		} else {
			logger.Get(logger.WakeLock).Warn("Kernel wake-lock interface not available, falling back to memory", "root", cfg.SysfsRoot)
		}
	}
	return wakelock.NewSet(cfg.Name, backend)
}

func openStore(cfg system.OpDBConfig) (opdb.Store, error) {
	if cfg.Path == "" {
		return opdb.NewMemoryStore(), nil
	}
	return sqlite.Open(cfg.Path)
}

func main() {
	configPath := flag.String("config", "/etc/osvlease/osvlease.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	configureLogging(cfg)

	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting osvleased", "version", version.Version, "commit", version.Commit, "config", *configPath, "interfaces", len(cfg.Interfaces))

	eventBus := local.NewBus()
	eventBus.SetDebugTopics(cfg.Logging.DebugTopics)

	alarms := alarm.New(eventBus)
	wakeLocks := newWakeLocks(cfg.WakeLock)

	store, err := openStore(cfg.OpDB)
	if err != nil {
		log.Fatalf("Failed to open operational database: %v", err)
	}

	nativeOpts := inproc.Options{
		StartTimeout:   cfg.DHCP.StartTimeout,
		RequestTimeout: cfg.DHCP.RequestTimeout,
		Retries:        cfg.DHCP.Retries,
		RetryDelay:     cfg.DHCP.RetryDelay,
		MaxRetryDelay:  cfg.DHCP.MaxRetryDelay,
	}
	native4 := inproc.NewV4(nativeOpts)
	native6 := inproc.NewV6(nativeOpts)

	applier := netconf.New()

	manager, err := controller.NewManager(controller.ManagerDeps{
		Config: cfg,
		Bus:    eventBus,
		Alarms: alarms,
		NewWakeLock: func(iface string) lease.WakeLock {
			return wakeLocks.For(iface)
		},
		Natives: map[lease.IPVersion]controller.Native{
			lease.IPv4: native4,
			lease.IPv6: native6,
		},
		NetConf: applier,
		Store:   store,
	})
	if err != nil {
		log.Fatalf("Failed to create lease manager: %v", err)
	}

	providers := opdb.NewProviderRegistry()
	providers.Register(manager)
	if err := providers.RestoreAll(context.Background(), store); err != nil {
		mainLog.Warn("Failed to restore leases", "error", err)
	}

	deps := component.Dependencies{
		EventBus:  eventBus,
		Config:    cfg,
		Leases:    manager.API(),
		WakeLocks: wakeLocks,
	}

	orch := component.NewOrchestrator()
	orch.Register(manager)

	pluginComponents, err := component.LoadAll(deps)
	if err != nil {
		log.Fatalf("Failed to load plugin components: %v", err)
	}
	for _, comp := range pluginComponents {
		mainLog.Info("Loaded plugin component", "name", comp.Name())
		orch.Register(comp)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start components: %v", err)
	}

	watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
		mainLog.Info("Configuration changed, reloading")
		for name, lvl := range next.Logging.Components {
			logger.SetComponentLevel(name, logger.LogLevel(lvl))
		}
		eventBus.SetDebugTopics(next.Logging.DebugTopics)
		manager.Reload(next)
	})
	if err != nil {
		mainLog.Warn("Config reload disabled", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	mainLog.Info("osvleased started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("Shutting down osvleased...")

	cancel()
	if watcher != nil {
		watcher.Close()
	}

	if err := orch.Stop(context.Background()); err != nil {
		mainLog.Error("Error stopping components", "error", err)
	}

	for _, closer := range []interface{ Close() error }{native4, native6, applier, alarms, store, eventBus} {
		if err := closer.Close(); err != nil {
			mainLog.Error("Error during shutdown", "error", err)
		}
	}

	mainLog.Info("osvleased stopped")
}
