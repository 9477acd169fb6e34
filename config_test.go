package main

import "testing"

// TestLoadConfigDefaultsLightSensorBasePath verifies the default path
// is used when WLUMA_LIGHT_SENSOR_BASE_PATH is unset.
func TestLoadConfigDefaultsLightSensorBasePath(t *testing.T) {
	t.Setenv("WLUMA_LIGHT_SENSOR_BASE_PATH", "")
	cfg := LoadConfig()
	if cfg.LightSensorBasePath != defaultLightSensorBasePath {
		t.Fatalf("LightSensorBasePath = %q, want default %q", cfg.LightSensorBasePath, defaultLightSensorBasePath)
	}
}

// TestLoadConfigHonoursOverride verifies an explicit env var wins
// over the default.
func TestLoadConfigHonoursOverride(t *testing.T) {
	t.Setenv("WLUMA_LIGHT_SENSOR_BASE_PATH", "/tmp/custom-iio")
	cfg := LoadConfig()
	if cfg.LightSensorBasePath != "/tmp/custom-iio" {
		t.Fatalf("LightSensorBasePath = %q, want override", cfg.LightSensorBasePath)
	}
}
