package main

import (
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"

	"github.com/cptspacemanspiff/home-energy-display/internal/aggregate"
)

var (
	colorGreenAccent = color.NRGBA{R: 77, G: 191, B: 102, A: 255}
	colorWhiteLabel  = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
)

func cardBgColor() color.Color {
	return color.NRGBA{R: 30, G: 30, B: 30, A: 230}
}

// dashboard is the main tab, laid out like the meter display: live figures
// on top, trailing windows and prices in the middle, finished-day
// summaries at the bottom.
type dashboard struct {
	dateLabel  *canvas.Text
	clockLabel *canvas.Text

	powerLabel   *canvas.Text
	costNowLabel *canvas.Text
	todayLabel   *canvas.Text
	usedLabel    *canvas.Text

	fiveLabel    *canvas.Text
	thirtyLabel  *canvas.Text
	sixtyLabel   *canvas.Text
	avgUnitLabel *canvas.Text

	priceNowTitle  *canvas.Text
	priceNowLabel  *canvas.Text
	priceNextTitle *canvas.Text
	priceNextLabel *canvas.Text
	todayAvgLabel  *canvas.Text
	tomorrowLabel  *canvas.Text

	yesterdayTitle *canvas.Text
	yesterdayLabel *canvas.Text
	weekTitle      *canvas.Text
	weekLabel      *canvas.Text
	monthTitle     *canvas.Text
	monthLabel     *canvas.Text

	strip     *priceStrip
	texts     []*canvas.Text
	container fyne.CanvasObject
}

func newDashboard() *dashboard {
	d := &dashboard{
		dateLabel:      newStatText("--"),
		clockLabel:     newStatText("--:--:--"),
		powerLabel:     newStatText("-- W"),
		costNowLabel:   newStatText("--"),
		todayLabel:     newStatText("--"),
		usedLabel:      newStatText("--"),
		fiveLabel:      newStatText("--"),
		thirtyLabel:    newStatText("--"),
		sixtyLabel:     newStatText("--"),
		avgUnitLabel:   newStatText("--"),
		priceNowTitle:  newLabelText("Unit Price"),
		priceNowLabel:  newStatText("--"),
		priceNextTitle: newLabelText("Next"),
		priceNextLabel: newStatText("--"),
		todayAvgLabel:  newStatText("--"),
		tomorrowLabel:  newStatText("--"),
		yesterdayTitle: newLabelText("Yesterday"),
		yesterdayLabel: newStatText("--"),
		weekTitle:      newLabelText("Past Week"),
		weekLabel:      newStatText("--"),
		monthTitle:     newLabelText("Past Month"),
		monthLabel:     newStatText("--"),
		strip:          newPriceStrip(),
	}
	d.texts = []*canvas.Text{
		d.dateLabel, d.clockLabel,
		d.powerLabel, d.costNowLabel, d.todayLabel, d.usedLabel,
		d.fiveLabel, d.thirtyLabel, d.sixtyLabel, d.avgUnitLabel,
		d.priceNowTitle, d.priceNowLabel, d.priceNextTitle, d.priceNextLabel,
		d.todayAvgLabel, d.tomorrowLabel,
		d.yesterdayTitle, d.yesterdayLabel,
		d.weekTitle, d.weekLabel,
		d.monthTitle, d.monthLabel,
	}

	header := container.New(layout.NewHBoxLayout(),
		d.dateLabel, layout.NewSpacer(), d.clockLabel)

	headline := card(container.New(layout.NewHBoxLayout(),
		container.NewVBox(newLabelText("Current Power"), d.powerLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Current Cost"), d.costNowLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Today"), d.todayLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Used Today"), d.usedLabel),
	))

	windows := card(container.New(layout.NewHBoxLayout(),
		container.NewVBox(newLabelText("Last 5 min"), d.fiveLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Last 30 min"), d.thirtyLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Last 60 min"), d.sixtyLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Avg Unit Cost"), d.avgUnitLabel),
	))

	prices := card(container.New(layout.NewHBoxLayout(),
		container.NewVBox(d.priceNowTitle, d.priceNowLabel),
		layout.NewSpacer(),
		container.NewVBox(d.priceNextTitle, d.priceNextLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Today Avg"), d.todayAvgLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Tomorrow Avg"), d.tomorrowLabel),
	))

	strip := card(container.NewVBox(
		newLabelText("Today's Unit Prices"), d.strip.container))

	summary := card(container.New(layout.NewHBoxLayout(),
		container.NewVBox(d.yesterdayTitle, d.yesterdayLabel),
		layout.NewSpacer(),
		container.NewVBox(d.weekTitle, d.weekLabel),
		layout.NewSpacer(),
		container.NewVBox(d.monthTitle, d.monthLabel),
	))

	d.container = container.NewVBox(
		container.NewPadded(header), headline, windows, prices, strip, summary)
	return d
}

func (d *dashboard) Update(f frame) {
	now := f.snap.At
	d.dateLabel.Text = formatLongDate(now)
	d.clockLabel.Text = now.Format("15:04:05")

	d.powerLabel.Text = formatWatts(f.snap.LiveWatts)
	d.costNowLabel.Text = fmt.Sprintf("%.1fp", f.priceNow*f.snap.LiveWatts/1000)
	d.todayLabel.Text = fmt.Sprintf("£%.2f", f.snap.Today.CostPounds)
	d.usedLabel.Text = fmt.Sprintf("%.2f kWh", f.snap.Today.EnergyKWh)

	d.fiveLabel.Text = fmt.Sprintf("£%.2f", f.snap.Windows.Five.CostPounds)
	d.thirtyLabel.Text = fmt.Sprintf("£%.2f", f.snap.Windows.Thirty.CostPounds)
	d.sixtyLabel.Text = fmt.Sprintf("£%.2f", f.snap.Windows.Sixty.CostPounds)
	d.avgUnitLabel.Text = avgUnitText(f.snap.Today)

	d.priceNowTitle.Text = fmt.Sprintf("Unit Price (%s - %s)", f.slotNow, f.slotNext)
	d.priceNowLabel.Text = fmt.Sprintf("%.1fp", f.priceNow)
	d.priceNextTitle.Text = fmt.Sprintf("Next (%s)", f.slotNext)
	d.priceNextLabel.Text = fmt.Sprintf("%.1fp", f.priceNext)
	d.todayAvgLabel.Text = fmt.Sprintf("%.1fp", f.snap.AvgUnitPence)
	if f.haveTomorrow {
		d.tomorrowLabel.Text = fmt.Sprintf("%.1fp", f.tomorrowAvg)
	} else {
		d.tomorrowLabel.Text = "--"
	}

	d.yesterdayTitle.Text = fmt.Sprintf("Yesterday [%s]", now.AddDate(0, 0, -1).Format("02/01"))
	d.yesterdayLabel.Text = summaryText(f.snap.Rollup.Yesterday)
	d.weekTitle.Text = fmt.Sprintf("Past Week [%s - %s]",
		now.AddDate(0, 0, -7).Format("02/01"), now.AddDate(0, 0, -1).Format("02/01"))
	d.weekLabel.Text = summaryText(f.snap.Rollup.Week)
	d.monthTitle.Text = fmt.Sprintf("Past Month [%s - %s]",
		now.AddDate(0, 0, -31).Format("02/01"), now.AddDate(0, 0, -1).Format("02/01"))
	d.monthLabel.Text = summaryText(f.snap.Rollup.Month)

	d.strip.SetPrices(f.table, f.slotNow)
	for _, t := range d.texts {
		t.Refresh()
	}
}

// summaryText renders a finished-day figure, or a placeholder while the
// rollup has not produced one.
func summaryText(t aggregate.Totals) string {
	if t.CostPounds <= 0 || t.EnergyKWh <= 0 {
		return "--"
	}
	return fmt.Sprintf("£%.2f (%.1f kWh @ %.1fp)", t.CostPounds, t.EnergyKWh,
		100*t.CostPounds/t.EnergyKWh)
}

func avgUnitText(t aggregate.Totals) string {
	if t.EnergyKWh <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.1fp", 100*t.CostPounds/t.EnergyKWh)
}

func formatWatts(watts float64) string {
	if watts >= 1000 {
		return fmt.Sprintf("%.2f kW", watts/1000)
	}
	return fmt.Sprintf("%.0f W", watts)
}

func formatLongDate(t time.Time) string {
	return fmt.Sprintf("%s %d%s %s %d",
		t.Weekday(), t.Day(), daySuffix(t.Day()), t.Month(), t.Year())
}

func daySuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

func card(content fyne.CanvasObject) fyne.CanvasObject {
	bg := canvas.NewRectangle(cardBgColor())
	return container.NewStack(bg, container.NewPadded(content))
}

func newStatText(text string) *canvas.Text {
	t := canvas.NewText(text, colorGreenAccent)
	t.TextSize = 18
	t.TextStyle = fyne.TextStyle{Bold: true}
	return t
}

func newLabelText(text string) *canvas.Text {
	t := canvas.NewText(text, colorWhiteLabel)
	t.TextSize = 12
	return t
}
