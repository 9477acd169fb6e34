// als_sensor.go - ambient light sensor via the IIO sysfs ABI

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultLightSensorBasePath = "/sys/bus/iio/devices"

// LightSensor reads raw illuminance from the first "als"-named IIO
// device found under its base path, applying the device's own
// scale/offset if it advertises them.
type LightSensor struct {
	rawPath string
	scale   float64
	offset  float64
}

// NewLightSensor scans basePath for a device directory whose "name"
// file reads "als". A missing sensor is an init-time fatal error:
// this daemon has no lux reading to learn from without one.
func NewLightSensor(basePath string) (*LightSensor, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, fmt.Errorf("light sensor: read %s: %w", basePath, err)
	}

	for _, entry := range entries {
		dir := filepath.Join(basePath, entry.Name())
		name, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(name)) != "als" {
			continue
		}

		rawPath := filepath.Join(dir, "in_illuminance_raw")
		if _, err := os.Stat(rawPath); err != nil {
			continue
		}

		s := &LightSensor{rawPath: rawPath, scale: 1}
		if v, err := readFloatFile(filepath.Join(dir, "in_illuminance_scale")); err == nil {
			s.scale = v
		}
		if v, err := readFloatFile(filepath.Join(dir, "in_illuminance_offset")); err == nil {
			s.offset = v
		}
		return s, nil
	}
	return nil, fmt.Errorf("light sensor: no als device found under %s", basePath)
}

func readFloatFile(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}

// Read returns the current lux value, rounded to the nearest integer.
func (s *LightSensor) Read() (int, error) {
	f, err := os.Open(s.rawPath)
	if err != nil {
		return 0, fmt.Errorf("light sensor: open raw: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 32)
	n, err := f.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("light sensor: read raw: %w", err)
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(string(buf[:n])), 64)
	if err != nil {
		return 0, fmt.Errorf("light sensor: parse raw %q: %w", buf[:n], err)
	}

	value := (raw + s.offset) * s.scale
	return int(value + 0.5), nil
}
