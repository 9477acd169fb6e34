// backlight.go - /sys/class/backlight device control

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// backlightClassPath is a var rather than a const so tests can point
// it at a fixture directory instead of the real sysfs tree.
var backlightClassPath = "/sys/class/backlight"

// Backlight writes raw brightness values to the first usable device
// under /sys/class/backlight. It satisfies the BacklightWriter
// interface the controller drives transitions through.
type Backlight struct {
	dir           string
	maxBrightness int
}

// NewBacklight scans backlightClassPath for the first directory where
// both max_brightness and brightness are readable.
func NewBacklight() (*Backlight, error) {
	entries, err := os.ReadDir(backlightClassPath)
	if err != nil {
		return nil, fmt.Errorf("backlight: read %s: %w", backlightClassPath, err)
	}

	for _, entry := range entries {
		dir := filepath.Join(backlightClassPath, entry.Name())
		maxRaw, err := os.ReadFile(filepath.Join(dir, "max_brightness"))
		if err != nil {
			continue
		}
		if _, err := os.ReadFile(filepath.Join(dir, "brightness")); err != nil {
			continue
		}
		max, err := strconv.Atoi(strings.TrimSpace(string(maxRaw)))
		if err != nil || max <= 0 {
			continue
		}
		return &Backlight{dir: dir, maxBrightness: max}, nil
	}
	return nil, fmt.Errorf("backlight: no usable device found under %s", backlightClassPath)
}

// MaxBrightness returns the device's maximum raw brightness value.
func (b *Backlight) MaxBrightness() int {
	return b.maxBrightness
}

// ReadPercent returns the current brightness as a 0-100 percentage of
// MaxBrightness, used to seed the controller's last-written value at
// warm-up.
func (b *Backlight) ReadPercent() (int, error) {
	raw, err := os.ReadFile(filepath.Join(b.dir, "brightness"))
	if err != nil {
		return 0, fmt.Errorf("backlight: read brightness: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("backlight: parse brightness %q: %w", raw, err)
	}
	return v * 100 / b.maxBrightness, nil
}

// Write sets the raw brightness. It truncates and seeks to zero
// before writing the decimal value, and deliberately does not fsync:
// the backlight sysfs attribute is not a regular file and gains
// nothing from a durability barrier on every ±1 transition step.
func (b *Backlight) Write(raw int) error {
	f, err := os.OpenFile(filepath.Join(b.dir, "brightness"), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("backlight: open brightness: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(raw)); err != nil {
		return fmt.Errorf("backlight: write brightness: %w", err)
	}
	return nil
}
