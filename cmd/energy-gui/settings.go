package main

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/cptspacemanspiff/home-energy-display/internal/config"
	"github.com/cptspacemanspiff/home-energy-display/internal/tariff"
)

// settingsTab edits the TOML config in place. Save runs the same
// validation the daemon loads with, so a bad value never lands on disk.
type settingsTab struct {
	configPath string

	driverSelect *widget.Select
	deviceEntry  *widget.Entry
	sampleEntry  *widget.Entry
	minLuxEntry  *widget.Entry
	pulsesEntry  *widget.Entry

	productSelect    *widget.Select
	productCodeEntry *widget.Entry
	tariffCodeEntry  *widget.Entry
	offlineCheck     *widget.Check

	logDirEntry   *widget.Entry
	priceDirEntry *widget.Entry
	dbPathEntry   *widget.Entry

	refreshEntry    *widget.Entry
	fullscreenCheck *widget.Check

	statusLabel *widget.Label
	container   fyne.CanvasObject
}

func newSettingsTab(configPath string, cfg *config.Config) *settingsTab {
	p := &settingsTab{
		configPath: configPath,
		driverSelect: widget.NewSelect(
			[]string{"iio", "simulated"}, nil),
		deviceEntry: widget.NewEntry(),
		sampleEntry: widget.NewEntry(),
		minLuxEntry: widget.NewEntry(),
		pulsesEntry: widget.NewEntry(),
		productSelect: widget.NewSelect(
			[]string{tariff.ProductAgile, tariff.ProductGo, tariff.ProductTracker, tariff.ProductFlexible}, nil),
		productCodeEntry: widget.NewEntry(),
		tariffCodeEntry:  widget.NewEntry(),
		offlineCheck:     widget.NewCheck("Use cached and built-in prices only", nil),
		logDirEntry:      widget.NewEntry(),
		priceDirEntry:    widget.NewEntry(),
		dbPathEntry:      widget.NewEntry(),
		refreshEntry:     widget.NewEntry(),
		fullscreenCheck:  widget.NewCheck("Start fullscreen", nil),
		statusLabel:      widget.NewLabel(""),
	}
	p.statusLabel.Wrapping = fyne.TextWrapWord

	sensorCard := widget.NewCard("Sensor", "", widget.NewForm(
		widget.NewFormItem("Driver", p.driverSelect),
		widget.NewFormItem("IIO Device", p.deviceEntry),
		widget.NewFormItem("Sample Interval (ms)", p.sampleEntry),
		widget.NewFormItem("Min Lux Difference", p.minLuxEntry),
		widget.NewFormItem("Pulses per kWh", p.pulsesEntry),
	))

	tariffCard := widget.NewCard("Tariff", "", container.NewVBox(
		widget.NewForm(
			widget.NewFormItem("Product", p.productSelect),
			widget.NewFormItem("Product Code", p.productCodeEntry),
			widget.NewFormItem("Tariff Code", p.tariffCodeEntry),
		),
		p.offlineCheck,
	))

	storageCard := widget.NewCard("Storage", "", widget.NewForm(
		widget.NewFormItem("Pulse Log Directory", p.logDirEntry),
		widget.NewFormItem("Price Cache Directory", p.priceDirEntry),
		widget.NewFormItem("Database Path", p.dbPathEntry),
	))

	displayCard := widget.NewCard("Display", "", container.NewVBox(
		widget.NewForm(
			widget.NewFormItem("Refresh Interval (ms)", p.refreshEntry),
		),
		p.fullscreenCheck,
	))

	reloadBtn := widget.NewButton("Reload", p.loadConfig)
	saveBtn := widget.NewButton("Save", func() {
		if err := p.saveConfig(); err != nil {
			p.setStatus(err.Error())
			return
		}
		p.setStatus("Saved. Restart energy-monitor-daemon and energy-gui to apply runtime changes.")
	})
	saveBtn.Importance = widget.HighImportance
	actions := container.NewHBox(reloadBtn, saveBtn)

	p.container = container.NewVScroll(container.NewVBox(
		sensorCard, tariffCard, storageCard, displayCard, actions, p.statusLabel))

	p.applyConfig(cfg)
	return p
}

func (p *settingsTab) loadConfig() {
	cfg, err := config.LoadOrDefault(p.configPath)
	if err != nil {
		cfg = config.DefaultConfig()
		p.setStatus(fmt.Sprintf("Failed to load %s, showing defaults: %v", p.configPath, err))
	} else {
		p.setStatus("Loaded configuration from " + p.configPath)
	}
	p.applyConfig(cfg)
}

func (p *settingsTab) applyConfig(cfg *config.Config) {
	p.driverSelect.SetSelected(cfg.Sensor.Driver)
	p.deviceEntry.SetText(cfg.Sensor.DeviceName)
	p.sampleEntry.SetText(strconv.Itoa(cfg.Sensor.SampleIntervalMillis))
	p.minLuxEntry.SetText(strconv.FormatFloat(cfg.Sensor.MinLuxDifference, 'f', -1, 64))
	p.pulsesEntry.SetText(strconv.Itoa(cfg.Meter.PulsesPerKWh))
	p.productSelect.SetSelected(cfg.Tariff.Product)
	p.productCodeEntry.SetText(cfg.Tariff.ProductCode)
	p.tariffCodeEntry.SetText(cfg.Tariff.TariffCode)
	p.offlineCheck.SetChecked(cfg.Tariff.Offline)
	p.logDirEntry.SetText(cfg.Storage.LogDir)
	p.priceDirEntry.SetText(cfg.Storage.PriceDir)
	p.dbPathEntry.SetText(cfg.Storage.DatabasePath)
	p.refreshEntry.SetText(strconv.Itoa(cfg.Display.RefreshIntervalMillis))
	p.fullscreenCheck.SetChecked(cfg.Display.Fullscreen)
}

func (p *settingsTab) saveConfig() error {
	// Start from what is on disk so fields this page does not show keep
	// their values.
	cfg, err := config.LoadOrDefault(p.configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	cfg.Sensor.Driver = p.driverSelect.Selected
	cfg.Sensor.DeviceName = strings.TrimSpace(p.deviceEntry.Text)
	if cfg.Sensor.SampleIntervalMillis, err = parseIntField("sample interval", p.sampleEntry.Text); err != nil {
		return err
	}
	if cfg.Sensor.MinLuxDifference, err = parseFloatField("min lux difference", p.minLuxEntry.Text); err != nil {
		return err
	}
	if cfg.Meter.PulsesPerKWh, err = parseIntField("pulses per kWh", p.pulsesEntry.Text); err != nil {
		return err
	}
	cfg.Tariff.Product = p.productSelect.Selected
	cfg.Tariff.ProductCode = strings.TrimSpace(p.productCodeEntry.Text)
	cfg.Tariff.TariffCode = strings.TrimSpace(p.tariffCodeEntry.Text)
	cfg.Tariff.Offline = p.offlineCheck.Checked
	cfg.Storage.LogDir = strings.TrimSpace(p.logDirEntry.Text)
	cfg.Storage.PriceDir = strings.TrimSpace(p.priceDirEntry.Text)
	cfg.Storage.DatabasePath = strings.TrimSpace(p.dbPathEntry.Text)
	if cfg.Display.RefreshIntervalMillis, err = parseIntField("refresh interval", p.refreshEntry.Text); err != nil {
		return err
	}
	cfg.Display.Fullscreen = p.fullscreenCheck.Checked

	sanitized, err := config.NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}
	if err := config.Save(p.configPath, sanitized); err != nil {
		return err
	}
	p.applyConfig(sanitized)
	return nil
}

func (p *settingsTab) setStatus(msg string) {
	p.statusLabel.SetText(msg)
}

func parseIntField(name, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s must be a whole number", name)
	}
	return v, nil
}

func parseFloatField(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}
