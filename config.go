// config.go - environment-variable configuration, no flags/files

package main

import "os"

// Config holds the handful of environment-derived settings the
// daemon needs at startup. There is no config file or CLI flag
// parser: every example repo in the retrieval pack that ships a
// daemon-shaped binary reads its knobs from the environment, and this
// one has exactly three.
type Config struct {
	LightSensorBasePath string
	DataHome            string
}

// LoadConfig reads WLUMA_LIGHT_SENSOR_BASE_PATH, XDG_DATA_HOME and
// HOME, applying the same fallback order resolveDataPath uses
// elsewhere.
func LoadConfig() Config {
	base := os.Getenv("WLUMA_LIGHT_SENSOR_BASE_PATH")
	if base == "" {
		base = defaultLightSensorBasePath
	}
	return Config{
		LightSensorBasePath: base,
		DataHome:            resolveDataPath(),
	}
}
