// Command energy-gui is the standalone desktop front end. It runs the
// whole pipeline in-process, sampling the sensor itself, so it needs no
// daemon. One refresh pass per display interval rebuilds the figures and
// hands them to the UI thread as a single value.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"

	"github.com/cptspacemanspiff/home-energy-display/internal/config"
	"github.com/cptspacemanspiff/home-energy-display/internal/observability"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the TOML config file")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: monitor,tariff,aggregate,rollup,storage (or 'all')")
	flag.Parse()

	handler := observability.NewTopicHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		observability.ParseTopics(*verbose, *logFlag),
	)
	logger := slog.New(handler)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("start pipeline", "error", err)
		os.Exit(1)
	}
	defer b.close()

	a := app.New()
	w := a.NewWindow("Home Energy Monitor")

	dash := newDashboard()
	history := newHistoryTab(b.log, b.store, b.prices, cfg.Meter.PulsesPerKWh, logger)
	settings := newSettingsTab(*configPath, cfg)

	tabs := container.NewAppTabs(
		container.NewTabItem("Dashboard", dash.container),
		container.NewTabItem("History", history.container),
		container.NewTabItem("Settings", settings.container),
	)
	w.SetContent(tabs)
	w.Resize(fyne.NewSize(800, 480))
	w.SetFullScreen(cfg.Display.Fullscreen)

	refreshInterval := time.Duration(cfg.Display.RefreshIntervalMillis) * time.Millisecond
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				f := b.tick(ctx, now)
				fyne.Do(func() { dash.Update(f) })
			}
		}
	}()

	logger.Info("energy-gui started", "refresh_interval", refreshInterval)
	w.ShowAndRun()
}
