package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cptspacemanspiff/home-energy-display/internal/calibration"
	"github.com/cptspacemanspiff/home-energy-display/internal/config"
	"github.com/cptspacemanspiff/home-energy-display/internal/sensor"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the TOML config file")
	duration := flag.Duration("duration", 60*time.Second, "how long to record lux samples")
	write := flag.Bool("write", false, "write the recommended min_lux_difference back to the config file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	fmt.Println("=== Energy Monitor Sensor Calibration ===")
	fmt.Println()
	fmt.Println("This tool records raw lux readings from the sensor and works out how")
	fmt.Println("clearly the meter LED's blinks stand out from the sensor's noise floor.")
	fmt.Println()
	fmt.Println("Before pressing Enter, please:")
	fmt.Println("  1. Fix the sensor over the meter's impulse LED, shielded from room light")
	fmt.Println("  2. Switch on a steady load you know, e.g. a kettle or heater")
	fmt.Println("  3. Leave everything untouched for the whole recording")
	fmt.Println()
	fmt.Print("Press Enter when ready...")
	bufio.NewReader(os.Stdin).ReadBytes('\n')
	fmt.Println()

	fmt.Println("[1/4] Opening sensor...")
	s, err := newSensor(cfg)
	if err != nil {
		log.Fatalf("open sensor: %v", err)
	}
	defer s.Close()
	fmt.Printf("       driver=%s device=%q\n", cfg.Sensor.Driver, cfg.Sensor.DeviceName)

	interval := time.Duration(cfg.Sensor.SampleIntervalMillis) * time.Millisecond
	fmt.Printf("[2/4] Recording for %v (one reading every %v)...\n", *duration, interval)
	samples, err := calibration.Record(s, *duration, interval)
	if err != nil {
		log.Fatalf("record: %v", err)
	}
	fmt.Printf("       %d samples recorded\n", len(samples))

	fmt.Println("[3/4] Analyzing...")
	result, err := calibration.Analyze(samples, cfg.Sensor.MinLuxDifference, cfg.Meter.PulsesPerKWh)
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Quiet floor:     min=%.4f max=%.4f mean=%.4f stddev=%.4f lux\n",
		result.Floor.Min, result.Floor.Max, result.Floor.Mean, result.Floor.StdDev)
	fmt.Printf("  Blink level:     %.4f lux\n", result.PulseMeanLux)
	fmt.Printf("  Pulses seen:     %d at the current threshold %.4f\n", result.PulseCount, cfg.Sensor.MinLuxDifference)
	if result.MeanIntervalS > 0 {
		fmt.Printf("  Pulse interval:  %.2fs (implies %.0f W at %d pulses/kWh)\n",
			result.MeanIntervalS, result.ImpliedWatts, cfg.Meter.PulsesPerKWh)
	}
	fmt.Printf("  Recommended min_lux_difference: %.4f\n", result.RecommendedMinLuxDifference)
	fmt.Println()

	outPath := filepath.Join(filepath.Dir(*configPath), "calibration.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("marshal result: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		log.Fatalf("write result: %v", err)
	}
	fmt.Printf("[4/4] Results written to %s\n", outPath)

	if *write {
		cfg.Sensor.MinLuxDifference = result.RecommendedMinLuxDifference
		if err := config.Save(*configPath, cfg); err != nil {
			log.Fatalf("update config: %v", err)
		}
		fmt.Printf("       Config updated: sensor.min_lux_difference = %.4f\n", result.RecommendedMinLuxDifference)
	} else {
		fmt.Printf("       Re-run with -write to set sensor.min_lux_difference = %.4f\n", result.RecommendedMinLuxDifference)
	}
}

func newSensor(cfg *config.Config) (sensor.Sensor, error) {
	if cfg.Sensor.Driver == "simulated" {
		return sensor.NewSimulated(0), nil
	}
	return sensor.NewIIO(cfg.Sensor.DeviceName, cfg.Sensor.IntegrationTimeMillis)
}
