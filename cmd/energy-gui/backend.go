package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/home-energy-display/internal/aggregate"
	"github.com/cptspacemanspiff/home-energy-display/internal/config"
	"github.com/cptspacemanspiff/home-energy-display/internal/pulse"
	"github.com/cptspacemanspiff/home-energy-display/internal/sensor"
	"github.com/cptspacemanspiff/home-energy-display/internal/storage"
	"github.com/cptspacemanspiff/home-energy-display/internal/tariff"
)

// defaultUnitPence stands in for a slot the served table is missing, which
// only happens on a partial agile day.
const defaultUnitPence = 15.0

// frame is the whole-value bundle one refresh pass hands to the UI thread.
type frame struct {
	snap         aggregate.Snapshot
	table        tariff.Table
	slotNow      string
	slotNext     string
	priceNow     float64
	priceNext    float64
	tomorrowAvg  float64
	haveTomorrow bool
}

// backend runs the sampling and aggregation pipeline inside the GUI
// process. Only the refresh goroutine touches it; the UI thread sees
// frames.
type backend struct {
	cfg     *config.Config
	logger  *slog.Logger
	log     *pulse.Log
	store   *storage.DB
	prices  *tariff.Source
	sen     sensor.Sensor
	monitor *pulse.Monitor
	rollups *aggregate.RollupRunner

	dayKey       string
	cursor       *aggregate.Cursor
	rollup       aggregate.RollupResult
	rollupCh     <-chan aggregate.RollupResult
	tomorrowAvg  float64
	haveTomorrow bool
}

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	log, err := pulse.NewLog(cfg.Storage.LogDir)
	if err != nil {
		return nil, fmt.Errorf("open pulse log: %w", err)
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
		return nil, fmt.Errorf("open day cache: %w", err)
	}

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
	})

	sen, err := newSensor(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open sensor: %w", err)
	}

	monitor := pulse.NewMonitor(pulse.MonitorOptions{
		Sensor:              sen,
		Log:                 log,
		Logger:              logger,
		SampleInterval:      time.Duration(cfg.Sensor.SampleIntervalMillis) * time.Millisecond,
		MinLuxDifference:    cfg.Sensor.MinLuxDifference,
		OutlierMultiplier:   cfg.Smoothing.OutlierMultiplier,
		MaxConsecutiveFixes: cfg.Smoothing.MaxConsecutiveFixes,
	})
	monitor.Start()

	b := &backend{
		cfg:     cfg,
		logger:  logger,
		log:     log,
		store:   store,
		prices:  prices,
		sen:     sen,
		monitor: monitor,
		rollups: &aggregate.RollupRunner{
			Log:          log,
			Prices:       prices,
			Store:        store,
			PulsesPerKWh: cfg.Meter.PulsesPerKWh,
			Logger:       logger,
		},
	}

	now := time.Now()
	b.dayKey = pulse.DayKey(now)
	prices.PricesFor(ctx, now)
	b.rollupCh = b.rollups.Start(ctx, now)
	return b, nil
}

func (b *backend) close() {
	b.monitor.Stop()
	b.sen.Close()
	b.store.Close()
}

// tick runs one refresh pass and returns the frame for the UI to show.
func (b *backend) tick(ctx context.Context, now time.Time) frame {
	if key := pulse.DayKey(now); key != b.dayKey {
		b.dayKey = key
		b.cursor = nil
		b.tomorrowAvg = 0
		b.haveTomorrow = false
		b.logger.Info("day rollover", "day", key)
		b.rollupCh = b.rollups.Start(ctx, now)
	}

	select {
	case result := <-b.rollupCh:
		b.rollup = result
		b.logger.Info("rollups adopted", "topic", "rollup",
			"yesterday_pounds", b.rollup.Yesterday.CostPounds,
			"week_pounds", b.rollup.Week.CostPounds,
			"month_pounds", b.rollup.Month.CostPounds)
	default:
	}

	table := b.prices.PricesFor(ctx, now)

	records, err := b.log.ReadDay(now)
	if err != nil {
		b.logger.Warn("read day file", "topic", "aggregate", "error", err)
	}
	var today aggregate.Totals
	today, b.cursor = aggregate.DayTotalsIncremental(records, now, table, b.cfg.Meter.PulsesPerKWh, b.cursor)

	windows, err := aggregate.FileWindows(b.log, now, now, table, b.cfg.Meter.PulsesPerKWh)
	if err != nil {
		b.logger.Warn("window totals", "topic", "aggregate", "error", err)
	}

	f := frame{
		snap: aggregate.Snapshot{
			At:           now,
			LiveWatts:    aggregate.LiveWatts(b.log, now, b.cfg.Meter.PulsesPerKWh),
			Today:        today,
			AvgUnitPence: table.Average(),
			Windows:      windows,
			Rollup:       b.rollup,
		},
		table: table,
	}
	b.fillSlotPrices(ctx, &f, now, table)
	b.fillTomorrow(ctx, &f, now, table)
	return f
}

// fillSlotPrices resolves the unit price of the current half-hour slot and
// the one after it. The next slot can fall on tomorrow, whose table may
// not be published yet.
func (b *backend) fillSlotPrices(ctx context.Context, f *frame, now time.Time, table tariff.Table) {
	f.slotNow = tariff.SlotLabel(now)
	f.priceNow = priceOr(table, f.slotNow)

	next := tariff.SlotStart(now).Add(30 * time.Minute)
	f.slotNext = tariff.SlotLabel(next)
	if pulse.DayKey(next) == b.dayKey {
		f.priceNext = priceOr(table, f.slotNext)
		return
	}
	f.priceNext = defaultUnitPence
	if t, err := b.prices.PublishedPrices(ctx, next); err == nil {
		f.priceNext = priceOr(t, f.slotNext)
	}
}

// fillTomorrow probes for tomorrow's prices once today's table is
// complete. Agile publishes the next day around 16:00, so probing earlier
// is wasted quota.
func (b *backend) fillTomorrow(ctx context.Context, f *frame, now time.Time, table tariff.Table) {
	if !b.haveTomorrow && now.Hour() >= 16 && table.Complete() {
		if t, err := b.prices.PublishedPrices(ctx, now.AddDate(0, 0, 1)); err == nil && len(t) > 0 {
			b.tomorrowAvg = t.Average()
			b.haveTomorrow = true
			b.logger.Info("tomorrow's prices published", "topic", "tariff",
				"average_pence", b.tomorrowAvg)
		}
	}
	f.tomorrowAvg = b.tomorrowAvg
	f.haveTomorrow = b.haveTomorrow
}

func priceOr(table tariff.Table, label string) float64 {
	if p, ok := table.Price(label); ok {
		return p
	}
	return defaultUnitPence
}

func newSensor(cfg *config.Config) (sensor.Sensor, error) {
	if cfg.Sensor.Driver == "simulated" {
		return sensor.NewSimulated(0), nil
	}
	return sensor.NewIIO(cfg.Sensor.DeviceName, cfg.Sensor.IntegrationTimeMillis)
}
