package main

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"

	"github.com/cptspacemanspiff/home-energy-display/internal/tariff"
)

// Strip geometry in pixels. Fixed sizes keep the manual bar layout simple
// on the 800x480 panel this targets.
const (
	stripWidth  = 768
	stripHeight = 56
	stripBarGap = 2
)

var (
	colorBarCheap   = color.NRGBA{R: 77, G: 191, B: 102, A: 255}
	colorBarMid     = color.NRGBA{R: 222, G: 170, B: 61, A: 255}
	colorBarDear    = color.NRGBA{R: 214, G: 81, B: 72, A: 255}
	colorBarCurrent = color.NRGBA{R: 240, G: 240, B: 240, A: 255}
	colorBarMissing = color.NRGBA{R: 90, G: 90, B: 90, A: 255}
)

// priceStrip draws the day's 48 half-hour unit prices as one bar per slot,
// scaled against the day's dearest slot. The current slot is picked out in
// white; slots the table is missing show as grey stubs.
type priceStrip struct {
	bars      [48]*canvas.Rectangle
	container fyne.CanvasObject
}

func newPriceStrip() *priceStrip {
	s := &priceStrip{}
	inner := container.NewWithoutLayout()
	for i := range s.bars {
		r := canvas.NewRectangle(colorBarMissing)
		s.bars[i] = r
		inner.Add(r)
	}
	// GridWrap pins the drawing area so the manual bar positions stay
	// valid whatever the parent layout does.
	s.container = container.NewGridWrap(fyne.NewSize(stripWidth, stripHeight), inner)
	return s
}

func (s *priceStrip) SetPrices(table tariff.Table, currentLabel string) {
	labels := tariff.Labels()

	max := 0.0
	for _, label := range labels {
		if p, ok := table.Price(label); ok && p > max {
			max = p
		}
	}
	if max <= 0 {
		max = 1
	}
	avg := table.Average()

	barWidth := float32(stripWidth)/float32(len(labels)) - stripBarGap
	for i, label := range labels {
		bar := s.bars[i]
		price, ok := table.Price(label)

		// Negative agile slots draw as stubs like missing ones do.
		h := float32(2)
		if ok && price > 0 {
			h = float32(price/max) * stripHeight
			if h < 2 {
				h = 2
			}
		}
		x := float32(i) * float32(stripWidth) / float32(len(labels))
		bar.Move(fyne.NewPos(x, stripHeight-h))
		bar.Resize(fyne.NewSize(barWidth, h))

		switch {
		case !ok:
			bar.FillColor = colorBarMissing
		case label == currentLabel:
			bar.FillColor = colorBarCurrent
		case price <= avg*0.8:
			bar.FillColor = colorBarCheap
		case price >= avg*1.2:
			bar.FillColor = colorBarDear
		default:
			bar.FillColor = colorBarMid
		}
		bar.Refresh()
	}
}
