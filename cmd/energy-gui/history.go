package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	xwidget "fyne.io/x/fyne/widget"

	"github.com/cptspacemanspiff/home-energy-display/internal/aggregate"
	"github.com/cptspacemanspiff/home-energy-display/internal/pulse"
	"github.com/cptspacemanspiff/home-energy-display/internal/storage"
	"github.com/cptspacemanspiff/home-energy-display/internal/tariff"
)

// historyTab shows any finished day's totals from a calendar pick. Cached
// summaries answer first; a day without one falls back to a full scan of
// its pulse file.
type historyTab struct {
	log          *pulse.Log
	store        *storage.DB
	prices       *tariff.Source
	pulsesPerKWh int
	logger       *slog.Logger

	dayTitle  *canvas.Text
	costLabel *canvas.Text
	usedLabel *canvas.Text
	unitLabel *canvas.Text
	container fyne.CanvasObject
}

func newHistoryTab(log *pulse.Log, store *storage.DB, prices *tariff.Source, pulsesPerKWh int, logger *slog.Logger) *historyTab {
	h := &historyTab{
		log:          log,
		store:        store,
		prices:       prices,
		pulsesPerKWh: pulsesPerKWh,
		logger:       logger,
		dayTitle:     newStatText("Pick a day"),
		costLabel:    newStatText("--"),
		usedLabel:    newStatText("--"),
		unitLabel:    newStatText("--"),
	}

	cal := xwidget.NewCalendar(time.Now(), h.showDay)

	figures := container.New(layout.NewHBoxLayout(),
		container.NewVBox(newLabelText("Cost"), h.costLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Used"), h.usedLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Avg Unit Cost"), h.unitLabel),
	)
	panel := card(container.NewVBox(h.dayTitle, figures))

	h.container = container.NewVBox(cal, panel)
	return h
}

// showDay runs on the UI thread; day files are small enough that the
// occasional full scan is not worth a goroutine.
func (h *historyTab) showDay(day time.Time) {
	h.dayTitle.Text = day.Format("Monday 02 Jan 2006")

	totals, ok := h.dayTotals(day)
	if !ok {
		h.costLabel.Text = "no data"
		h.usedLabel.Text = "--"
		h.unitLabel.Text = "--"
	} else {
		h.costLabel.Text = fmt.Sprintf("£%.2f", totals.CostPounds)
		h.usedLabel.Text = fmt.Sprintf("%.2f kWh", totals.EnergyKWh)
		h.unitLabel.Text = avgUnitText(totals)
	}

	h.dayTitle.Refresh()
	h.costLabel.Refresh()
	h.usedLabel.Refresh()
	h.unitLabel.Refresh()
}

func (h *historyTab) dayTotals(day time.Time) (aggregate.Totals, bool) {
	key := pulse.DayKey(day)
	if s, err := h.store.DaySummary(key); err != nil {
		h.logger.Warn("read day summary", "topic", "storage", "day", key, "error", err)
	} else if s != nil {
		return aggregate.Totals{CostPounds: s.CostPounds, EnergyKWh: s.EnergyKWh}, true
	}

	records, err := h.log.ReadDay(day)
	if err != nil {
		h.logger.Warn("read day file", "topic", "storage", "day", key, "error", err)
		return aggregate.Totals{}, false
	}
	if len(records) < 2 {
		return aggregate.Totals{}, false
	}
	table := h.prices.PricesFor(context.Background(), day)
	return aggregate.DayTotals(records, day, table, h.pulsesPerKWh), true
}
