package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kardianos/service"

	"github.com/cptspacemanspiff/home-energy-display/internal/aggregate"
	"github.com/cptspacemanspiff/home-energy-display/internal/api"
	"github.com/cptspacemanspiff/home-energy-display/internal/config"
	"github.com/cptspacemanspiff/home-energy-display/internal/dbusx"
	"github.com/cptspacemanspiff/home-energy-display/internal/observability"
	"github.com/cptspacemanspiff/home-energy-display/internal/publish"
	"github.com/cptspacemanspiff/home-energy-display/internal/pulse"
	"github.com/cptspacemanspiff/home-energy-display/internal/sensor"
	"github.com/cptspacemanspiff/home-energy-display/internal/storage"
	"github.com/cptspacemanspiff/home-energy-display/internal/tariff"
)

func main() {
	// Service verbs come before flags so flag parsing stays clean.
	var svcCommand string
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "install", "uninstall", "start", "stop", "status", "run":
			svcCommand = args[0]
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("energy-monitor-daemon", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to the TOML config file")
	verbose := fs.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := fs.String("log", "", "comma-separated log topics: monitor,tariff,aggregate,rollup,api,publish,storage (or 'all')")
	fs.Parse(args)

	handler := observability.NewTopicHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		observability.ParseTopics(*verbose, *logFlag),
	)
	logger := slog.New(handler)

	d := &daemon{configPath: *configPath, logger: logger}

	svcConfig := &service.Config{
		Name:        "energy-monitor",
		DisplayName: "Home Energy Monitor",
		Description: "Watches the electricity meter's impulse LED and serves usage figures.",
		Arguments:   []string{"run", "-config", *configPath},
	}
	svc, err := service.New(d, svcConfig)
	if err != nil {
		logger.Error("create service", "error", err)
		os.Exit(1)
	}

	switch svcCommand {
	case "install":
		if err := svc.Install(); err != nil {
			logger.Error("install service", "error", err)
			os.Exit(1)
		}
		fmt.Println("Service installed. Start it with: energy-monitor-daemon start")
	case "uninstall":
		_ = svc.Stop()
		if err := svc.Uninstall(); err != nil {
			logger.Error("uninstall service", "error", err)
			os.Exit(1)
		}
		fmt.Println("Service uninstalled.")
	case "start":
		if err := svc.Start(); err != nil {
			logger.Error("start service", "error", err)
			os.Exit(1)
		}
		fmt.Println("Service started.")
	case "stop":
		if err := svc.Stop(); err != nil {
			logger.Error("stop service", "error", err)
			os.Exit(1)
		}
		fmt.Println("Service stopped.")
	case "status":
		status, err := svc.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
			return
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service status: running")
		case service.StatusStopped:
			fmt.Println("Service status: stopped")
		default:
			fmt.Println("Service status: unknown")
		}
	default:
		// "run" under the service manager, or bare invocation in the
		// foreground; svc.Run handles SIGINT/SIGTERM either way.
		if err := svc.Run(); err != nil {
			logger.Error("run", "error", err)
			os.Exit(1)
		}
	}
}

// daemon wires the sampling, aggregation and serving pieces together and
// implements service.Interface.
type daemon struct {
	configPath string
	logger     *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func (d *daemon) Start(service.Service) error {
	cfg, err := config.LoadOrDefault(d.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(cfg)
	return nil
}

func (d *daemon) Stop(service.Service) error {
	close(d.stop)
	<-d.done
	return nil
}

func (d *daemon) run(cfg *config.Config) {
	defer close(d.done)

	logger := d.logger
	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-d.stop
		cancel()
	}()

	log, err := pulse.NewLog(cfg.Storage.LogDir)
	if err != nil {
		logger.Error("open pulse log", "error", err)
		return
	}

	// A power loss mid-write can leave torn lines; clean them up before any
	// reader sees the files.
	if dropped, err := log.RepairRecent(2); err != nil {
		logger.Warn("repair pulse logs", "error", err)
	} else if dropped > 0 {
		logger.Info("repaired pulse logs", "lines_dropped", dropped)
	}

	store, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("open day cache", "error", err)
		return
	}
	defer store.Close()

	client := tariff.NewClient(cfg.Tariff.APIBaseURL, cfg.Tariff.APIKey,
		time.Duration(cfg.Tariff.FetchTimeoutSeconds)*time.Second)
	prices := tariff.NewSource(tariff.SourceOptions{
		Dir:         cfg.Storage.PriceDir,
		Product:     cfg.Tariff.Product,
		ProductCode: cfg.Tariff.ProductCode,
		TariffCode:  cfg.Tariff.TariffCode,
		Client:      client,
		Offline:     cfg.Tariff.Offline,
		OfflinePath: cfg.Tariff.OfflinePricePath,
		Logger:      logger,
		Metrics:     metrics,
	})

	now := time.Now()
	dayKey := pulse.DayKey(now)
	prices.PricesFor(ctx, now)

	sen, err := newSensor(cfg)
	if err != nil {
		logger.Error("open sensor", "error", err)
		return
	}
	defer sen.Close()

	monitor := pulse.NewMonitor(pulse.MonitorOptions{
		Sensor:              sen,
		Log:                 log,
		Logger:              logger,
		SampleInterval:      time.Duration(cfg.Sensor.SampleIntervalMillis) * time.Millisecond,
		MinLuxDifference:    cfg.Sensor.MinLuxDifference,
		OutlierMultiplier:   cfg.Smoothing.OutlierMultiplier,
		MaxConsecutiveFixes: cfg.Smoothing.MaxConsecutiveFixes,
		Metrics:             metrics,
	})
	monitor.Start()
	defer monitor.Stop()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.ServerOptions{
			Log:          log,
			Store:        store,
			Prices:       prices,
			PulsesPerKWh: cfg.Meter.PulsesPerKWh,
			Metrics:      metrics,
			Logger:       logger,
		})
		httpServer := &http.Server{Addr: cfg.API.ListenAddr, Handler: apiServer.Handler(os.Stdout)}
		go func() {
			logger.Info("http api listening", "topic", "api", "addr", cfg.API.ListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http api server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	var publisher *publish.Publisher
	if cfg.MQTT.Enabled {
		publisher = publish.NewPublisher(publish.PublisherOptions{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Logger:      logger,
		})
		publisher.Start()
		defer publisher.Close()
	}

	var statsSvc *dbusx.Service
	if cfg.DBus.Enabled {
		statsSvc = dbusx.NewService()
		conn, err := statsSvc.Export()
		if err != nil {
			logger.Warn("dbus service unavailable", "error", err)
			statsSvc = nil
		} else {
			defer conn.Close()
			logger.Info("dbus service registered", "name", "org.gnome.EnergyMonitor")
		}
	}

	rollups := &aggregate.RollupRunner{
		Log:          log,
		Prices:       prices,
		Store:        store,
		PulsesPerKWh: cfg.Meter.PulsesPerKWh,
		Logger:       logger,
	}
	rollupCh := rollups.Start(ctx, now)

	archiver := &storage.Archiver{
		LogDir:           cfg.Storage.LogDir,
		ArchiveAfterDays: cfg.Storage.ArchiveAfterDays,
		RetentionDays:    cfg.Storage.RetentionDays,
		Logger:           logger,
	}

	refreshInterval := time.Duration(cfg.Display.RefreshIntervalMillis) * time.Millisecond
	publishInterval := time.Duration(cfg.MQTT.PublishIntervalSeconds) * time.Second
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()
	maintenance := time.NewTicker(time.Minute)
	defer maintenance.Stop()

	var (
		cursor      *aggregate.Cursor
		rollup      aggregate.RollupResult
		lastPublish time.Time
	)

	logger.Info("energy-monitor-daemon started",
		"refresh_interval", refreshInterval,
		"log_dir", cfg.Storage.LogDir)

	for {
		select {
		case <-d.stop:
			return

		case result := <-rollupCh:
			rollup = result
			logger.Info("rollups adopted", "topic", "rollup",
				"yesterday_pounds", rollup.Yesterday.CostPounds,
				"week_pounds", rollup.Week.CostPounds,
				"month_pounds", rollup.Month.CostPounds)

		case <-maintenance.C:
			tick := time.Now()
			if pulse.DayKey(tick) == dayKey {
				continue
			}
			dayKey = pulse.DayKey(tick)
			cursor = nil
			logger.Info("day rollover", "day", dayKey)
			prices.PricesFor(ctx, tick)
			rollupCh = rollups.Start(ctx, tick)
			d.sweep(archiver, store, cfg.Storage.RetentionDays, tick)

		case <-refresh.C:
			started := time.Now()
			table := prices.PricesFor(ctx, started)

			records, err := log.ReadDay(started)
			if err != nil {
				logger.Warn("read day file", "topic", "aggregate", "error", err)
			}
			var today aggregate.Totals
			today, cursor = aggregate.DayTotalsIncremental(records, started, table, cfg.Meter.PulsesPerKWh, cursor)

			windows, err := aggregate.FileWindows(log, started, started, table, cfg.Meter.PulsesPerKWh)
			if err != nil {
				logger.Warn("window totals", "topic", "aggregate", "error", err)
			}

			snap := aggregate.Snapshot{
				At:           started,
				LiveWatts:    aggregate.LiveWatts(log, started, cfg.Meter.PulsesPerKWh),
				Today:        today,
				AvgUnitPence: table.Average(),
				Windows:      windows,
				Rollup:       rollup,
			}

			if apiServer != nil {
				apiServer.SetSnapshot(snap)
			}
			if statsSvc != nil {
				statsSvc.SetSnapshot(snap)
			}
			metrics.SetLiveWatts(snap.LiveWatts)
			metrics.SetDayTotals(today.CostPounds, today.EnergyKWh)
			metrics.ObserveAggregationCycle(time.Since(started))

			if publisher != nil && started.Sub(lastPublish) >= publishInterval {
				publisher.Publish(snap)
				lastPublish = started
			}
		}
	}
}

// sweep runs the daily storage maintenance: gzip old day files and drop
// summaries past the retention horizon.
func (d *daemon) sweep(archiver *storage.Archiver, store *storage.DB, retentionDays int, now time.Time) {
	if archived, pruned, err := archiver.Sweep(now); err != nil {
		d.logger.Warn("archive sweep", "topic", "storage", "error", err)
	} else if archived > 0 || pruned > 0 {
		d.logger.Info("archive sweep", "topic", "storage", "archived", archived, "pruned", pruned)
	}

	cutoff := pulse.DayKey(now.AddDate(0, 0, -retentionDays))
	if n, err := store.DeleteSummariesBefore(cutoff); err != nil {
		d.logger.Warn("prune day summaries", "topic", "storage", "error", err)
	} else if n > 0 {
		d.logger.Info("pruned day summaries", "topic", "storage", "rows", n)
	}
}

func newSensor(cfg *config.Config) (sensor.Sensor, error) {
	if cfg.Sensor.Driver == "simulated" {
		return sensor.NewSimulated(0), nil
	}
	return sensor.NewIIO(cfg.Sensor.DeviceName, cfg.Sensor.IntegrationTimeMillis)
}
