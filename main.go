// main.go - wires every component together and runs the daemon loop

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg := LoadConfig()

	gpu, err := NewGPUContext()
	if err != nil {
		log.Fatal().Err(err).Msg("gpu init failed")
	}
	defer gpu.Close()

	wayland, err := NewWaylandCapture("")
	if err != nil {
		log.Fatal().Err(err).Msg("wayland init failed")
	}
	defer wayland.Close()

	backlight, err := NewBacklight()
	if err != nil {
		log.Fatal().Err(err).Msg("backlight init failed")
	}

	sensor, err := NewLightSensor(cfg.LightSensorBasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("light sensor init failed")
	}

	store, err := NewTrainingStore(cfg.DataHome, log)
	if err != nil {
		log.Fatal().Err(err).Msg("training store init failed")
	}
	if err := store.Load(); err != nil {
		log.Fatal().Err(err).Msg("training store load failed")
	}

	daemon := &Daemon{
		wayland:    wayland,
		gpu:        gpu,
		extractor:  NewLumaExtractor(gpu),
		sensor:     sensor,
		backlight:  backlight,
		controller: NewController(store, log),
		smoother:   &LuxSmoother{},
		log:        log,
	}
	defer daemon.extractor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx); err != nil {
		log.Error().Err(err).Msg("daemon stopped")
		os.Exit(1)
	}

	log.Info().Msg("stopped on signal")
	os.Exit(0)
}
