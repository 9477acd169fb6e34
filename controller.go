// controller.go - edit-detection state machine and nearest-neighbour prediction

package main

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// editCountdown is the number of consecutive cycles a manual backlight
// change must hold steady, counting the cycle that opens the edit
// window, before it is confirmed into the training set.
const editCountdown = 15

// transitionDuration is the fixed wall-clock span a backlight
// transition always takes, regardless of how many percentage points
// it covers.
const transitionDuration = 300 * time.Millisecond

// BacklightWriter is the device-facing collaborator the controller
// drives during a transition.
type BacklightWriter interface {
	Write(raw int) error
	MaxBrightness() int
}

// Controller owns the pending-edit state machine and the prediction
// model. It never locks: it is only ever touched from the dispatcher's
// single cycle-runner goroutine.
type Controller struct {
	store         *TrainingStore
	log           zerolog.Logger
	luxMaxSeen    int
	pending       Point
	countdown     int
	lastWritten   int
	hasLastWritten bool
}

// NewController builds a controller seeded from the store's loaded
// points; luxMaxSeen starts at the largest lux already on disk, never
// below 1 since it is used as a divisor when normalizing lux distance.
func NewController(store *TrainingStore, log zerolog.Logger) *Controller {
	max := store.MaxLux()
	if max < 1 {
		max = 1
	}
	return &Controller{store: store, log: log, luxMaxSeen: max}
}

// RefreshLastWritten updates the controller's notion of the
// currently-observed backlight without entering any edit window. The
// dispatcher calls this every cycle while the lux smoother is still
// warming up.
func (c *Controller) RefreshLastWritten(b int) {
	c.lastWritten = b
	c.hasLastWritten = true
}

// Cycle runs one controller decision given smoothed lux L, luma M and
// the currently observed backlight B.
func (c *Controller) Cycle(ctx context.Context, L, M, B int, writer BacklightWriter) error {
	if c.countdown == 0 {
		if c.hasLastWritten && B == c.lastWritten && len(c.store.Points()) > 0 {
			return c.predictAndDrive(ctx, L, M, B, writer)
		}
		c.beginPending(L, M, B)
	} else if B != c.pending.Backlight {
		c.beginPending(L, M, B)
	}

	c.countdown--
	if c.countdown == 0 {
		c.confirm()
	}
	return nil
}

func (c *Controller) beginPending(L, M, B int) {
	c.pending = Point{Lux: L, Luma: M, Backlight: B}
	c.countdown = editCountdown
}

func (c *Controller) confirm() {
	p := c.pending
	c.store.Insert(p)
	if p.Lux > c.luxMaxSeen {
		c.luxMaxSeen = p.Lux
	}
	if c.luxMaxSeen < 1 {
		c.luxMaxSeen = 1
	}
	c.lastWritten = p.Backlight
	c.hasLastWritten = true
	c.log.Info().Int("lux", p.Lux).Int("luma", p.Luma).Int("backlight", p.Backlight).Msg("training point confirmed")
}

func (c *Controller) predictAndDrive(ctx context.Context, L, M, B int, writer BacklightWriter) error {
	target := c.predict(L, M)
	if target == B {
		return nil
	}
	if err := c.transition(ctx, writer, B, target); err != nil {
		return err
	}
	c.lastWritten = target
	return nil
}

// predict locates the three training points nearest (L, M) in
// normalized lux/luma space, fits the plane through them in
// (lux, luma, backlight) space, and solves that plane for the
// backlight value directly above (L, M), clamped to [1, 100].
func (c *Controller) predict(L, M int) int {
	points := c.store.Points()
	luxCap := L
	if c.luxMaxSeen < luxCap {
		luxCap = c.luxMaxSeen
	}

	sort.Slice(points, func(i, j int) bool {
		return distance(points[i], luxCap, M, c.luxMaxSeen) < distance(points[j], luxCap, M, c.luxMaxSeen)
	})

	if len(points) < 3 {
		return clampBacklight(points[0].Backlight)
	}

	n1, n2, n3 := points[0], points[1], points[2]
	v1 := [3]float64{float64(n2.Lux - n1.Lux), float64(n2.Luma - n1.Luma), float64(n2.Backlight - n1.Backlight)}
	v2 := [3]float64{float64(n3.Lux - n1.Lux), float64(n3.Luma - n1.Luma), float64(n3.Backlight - n1.Backlight)}
	n := cross(v1, v2)

	const eps = 1e-9
	nz := n[2]
	if math.Abs(nz) <= eps {
		return clampBacklight(n1.Backlight)
	}

	z := float64(n1.Backlight) - (n[0]*float64(luxCap-n1.Lux)+n[1]*float64(M-n1.Luma))/nz
	return clampBacklight(int(math.Round(z)))
}

func distance(p Point, luxCap, luma, luxMaxSeen int) float64 {
	if luxMaxSeen < 1 {
		luxMaxSeen = 1
	}
	dx := float64(luxCap-p.Lux) * 100 / float64(luxMaxSeen)
	dy := float64(luma - p.Luma)
	return math.Sqrt(dx*dx + dy*dy)
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func clampBacklight(v int) int {
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// transition drives the backlight from `from` to `to` one percent at
// a time, spaced so the whole move takes transitionDuration
// regardless of magnitude. It stops immediately, issuing no further
// writes, if ctx is cancelled between steps.
func (c *Controller) transition(ctx context.Context, writer BacklightWriter, from, to int) error {
	diff := to - from
	if diff == 0 {
		return nil
	}
	step := 1
	n := diff
	if diff < 0 {
		step = -1
		n = -diff
	}
	interval := time.Duration(int64(transitionDuration) / int64(n))

	cur := from
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		cur += step
		raw := cur * writer.MaxBrightness() / 100
		if err := writer.Write(raw); err != nil {
			return err
		}
		if i < n-1 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
