package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestController(t *testing.T) (*Controller, *TrainingStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	store, err := NewTrainingStore(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTrainingStore: %v", err)
	}
	return NewController(store, zerolog.Nop()), store
}

// fakeBacklight records every Write call and reports a fixed
// MaxBrightness, satisfying the BacklightWriter interface.
type fakeBacklight struct {
	max     int
	writes  []int
}

func (f *fakeBacklight) MaxBrightness() int { return f.max }
func (f *fakeBacklight) Write(raw int) error {
	f.writes = append(f.writes, raw)
	return nil
}

// TestControllerConfirmsAfter15Cycles verifies a sustained manual
// edit is confirmed into the training store on exactly the 15th
// cycle, not the 14th or 16th.
func TestControllerConfirmsAfter15Cycles(t *testing.T) {
	c, store := newTestController(t)
	writer := &fakeBacklight{max: 100}
	ctx := context.Background()

	for i := 1; i <= 14; i++ {
		if err := c.Cycle(ctx, 200, 40, 60, writer); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if len(store.Points()) != 0 {
			t.Fatalf("training point confirmed early at cycle %d", i)
		}
	}
	if err := c.Cycle(ctx, 200, 40, 60, writer); err != nil {
		t.Fatalf("cycle 15: %v", err)
	}
	points := store.Points()
	if len(points) != 1 {
		t.Fatalf("expected exactly one confirmed point after 15 cycles, got %v", points)
	}
	want := Point{Lux: 200, Luma: 40, Backlight: 60}
	if points[0] != want {
		t.Fatalf("confirmed point = %v, want %v", points[0], want)
	}
}

// TestControllerInterruptedEditResetsCountdown verifies a backlight
// change mid-countdown restarts the 15-cycle window against the new
// value instead of continuing the old one.
func TestControllerInterruptedEditResetsCountdown(t *testing.T) {
	c, store := newTestController(t)
	writer := &fakeBacklight{max: 100}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Cycle(ctx, 200, 40, 60, writer)
	}
	// backlight changes again before confirmation
	for i := 0; i < 14; i++ {
		c.Cycle(ctx, 200, 40, 65, writer)
	}
	if len(store.Points()) != 0 {
		t.Fatal("should not have confirmed yet, window was reset")
	}
	c.Cycle(ctx, 200, 40, 65, writer)
	points := store.Points()
	if len(points) != 1 || points[0].Backlight != 65 {
		t.Fatalf("expected the restarted window's value 65 confirmed, got %v", points)
	}
}

// TestControllerPredictPlaneInterpolation verifies the nearest-three
// plane interpolation: the set {(0,0,10),(0,100,50),(100,0,20)}
// queried at (50,50) predicts 35.
func TestControllerPredictPlaneInterpolation(t *testing.T) {
	c, store := newTestController(t)
	// Set directly: this is a fixed three-point configuration meant to
	// coexist as given, not one built incrementally through Insert,
	// which would dominance-prune (0,0,10) away before the test runs.
	store.points = []Point{
		{Lux: 0, Luma: 0, Backlight: 10},
		{Lux: 0, Luma: 100, Backlight: 50},
		{Lux: 100, Luma: 0, Backlight: 20},
	}
	c.luxMaxSeen = 100

	got := c.predict(50, 50)
	if got != 35 {
		t.Fatalf("predict(50, 50) = %d, want 35", got)
	}
}

// TestControllerTransitionStepCount verifies a move from 20 to 80
// issues exactly 60 writes, one per percentage point, ending at the
// target.
func TestControllerTransitionStepCount(t *testing.T) {
	c, _ := newTestController(t)
	writer := &fakeBacklight{max: 100}
	ctx := context.Background()

	if err := c.transition(ctx, writer, 20, 80); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(writer.writes) != 60 {
		t.Fatalf("got %d writes, want 60", len(writer.writes))
	}
	if writer.writes[len(writer.writes)-1] != 80 {
		t.Fatalf("last write = %d, want 80", writer.writes[len(writer.writes)-1])
	}
}

// TestControllerTransitionInterruptedStopsImmediately verifies a
// cancelled context (e.g. SIGINT mid-transition) stops the transition
// with no further writes.
func TestControllerTransitionInterruptedStopsImmediately(t *testing.T) {
	c, _ := newTestController(t)
	writer := &fakeBacklight{max: 100}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := c.transition(ctx, writer, 20, 80)
	if err == nil {
		t.Fatal("expected transition to return an error on cancellation")
	}
	written := len(writer.writes)
	time.Sleep(20 * time.Millisecond)
	if len(writer.writes) != written {
		t.Fatal("transition issued writes after cancellation")
	}
}

// TestControllerNoOpWhenPredictionMatchesCurrent verifies idle-predict
// issues no backlight writes when the prediction already equals the
// observed backlight.
func TestControllerNoOpWhenPredictionMatchesCurrent(t *testing.T) {
	c, store := newTestController(t)
	store.points = []Point{
		{Lux: 0, Luma: 0, Backlight: 10},
		{Lux: 0, Luma: 100, Backlight: 50},
		{Lux: 100, Luma: 0, Backlight: 20},
	}
	c.luxMaxSeen = 100
	c.RefreshLastWritten(35)

	writer := &fakeBacklight{max: 100}
	if err := c.Cycle(context.Background(), 50, 50, 35, writer); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(writer.writes) != 0 {
		t.Fatalf("expected no writes, got %v", writer.writes)
	}
}
