package main

import "testing"

// TestDominatesExactReplacement verifies rule one: an identical
// (lux, luma) pair is always dominated regardless of backlight.
func TestDominatesExactReplacement(t *testing.T) {
	p := Point{Lux: 100, Luma: 50, Backlight: 40}
	q := Point{Lux: 100, Luma: 50, Backlight: 90}
	if !dominates(p, q) {
		t.Fatal("exact (lux, luma) match should always be dominated")
	}
}

// TestDominatesSameLumaNewerLuxWins verifies rule two: at equal luma,
// a newly confirmed point with lower lux wins regardless of backlight.
func TestDominatesSameLumaNewerLuxWins(t *testing.T) {
	p := Point{Lux: 50, Luma: 30, Backlight: 20}
	q := Point{Lux: 200, Luma: 30, Backlight: 80}
	if !dominates(p, q) {
		t.Fatal("equal luma, lower new lux should dominate the older point")
	}
}

// TestPruneScenario3LiteralFormalRules verifies that inserting
// (300,50,80) into {(100,50,30),(500,50,60)} only dominates
// (500,50,60) under the six dominance predicates, not (100,50,30),
// even though both share the inserted point's luma. See DESIGN.md.
func TestPruneScenario3LiteralFormalRules(t *testing.T) {
	existing := []Point{
		{Lux: 100, Luma: 50, Backlight: 30},
		{Lux: 500, Luma: 50, Backlight: 60},
	}
	p := Point{Lux: 300, Luma: 50, Backlight: 80}

	remaining := prune(existing, p)

	foundLow := false
	for _, q := range remaining {
		if q == (Point{Lux: 100, Luma: 50, Backlight: 30}) {
			foundLow = true
		}
		if q == (Point{Lux: 500, Luma: 50, Backlight: 60}) {
			t.Fatal("(500,50,60) should have been pruned by rule five")
		}
	}
	if !foundLow {
		t.Fatal("(100,50,30) satisfies none of the six formal predicates and must survive")
	}
}

// TestPruneRemovesMultipleDominated verifies prune discards every
// dominated point, not just the first match.
func TestPruneRemovesMultipleDominated(t *testing.T) {
	existing := []Point{
		{Lux: 600, Luma: 50, Backlight: 40},
		{Lux: 700, Luma: 50, Backlight: 30},
	}
	p := Point{Lux: 500, Luma: 50, Backlight: 80}

	remaining := prune(existing, p)
	if len(remaining) != 0 {
		t.Fatalf("expected both points pruned via rule two, got %v", remaining)
	}
}
