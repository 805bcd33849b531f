// Package sample decides how much of a table is worth showing to the LLM.
// Plans are a pure function of the row count plus a time-bucketed selection
// key, so identical queries inside one cache window read identical samples.
package sample

import (
	"hash/fnv"
	"time"
)

// Bucket names the table-size class a plan was derived from.
type Bucket string

const (
	BucketSmall  Bucket = "small"
	BucketMedium Bucket = "medium"
	BucketLarge  Bucket = "large"
)

// Thresholds are the bucketing parameters. They are tuning values exposed
// through configuration; zero values fall back to the defaults.
type Thresholds struct {
	SmallMax       int64   // below this: full table
	MediumMax      int64   // below this: MediumFraction capped at MediumCap
	MediumFraction float64 // and at or above MediumMax: LargeFraction / LargeCap
	LargeFraction  float64
	MediumCap      int
	LargeCap       int
}

// DefaultThresholds returns the built-in bucketing parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SmallMax:       1000,
		MediumMax:      10000,
		MediumFraction: 0.10,
		LargeFraction:  0.05,
		MediumCap:      500,
		LargeCap:       300,
	}
}

// Plan is a deterministic description of which rows to read.
type Plan struct {
	Bucket       Bucket
	RowCount     int64
	Fraction     float64
	Cap          int    // 0 means uncapped (full table)
	Rows         int64  // resolved number of rows to fetch
	SelectionKey uint64 // stable within a TTL window; drives stride offset
}

// Full reports whether the plan covers the whole table.
func (p Plan) Full() bool { return p.Rows >= p.RowCount }

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Planner derives sample plans from row counts.
type Planner struct {
	thresholds Thresholds
	window     time.Duration
	clock      Clock
}

// NewPlanner creates a Planner. The window should match the result cache
// TTL so repeated queries within it select the same rows; if it is <= 0
// it defaults to 5 minutes.
func NewPlanner(t Thresholds, window time.Duration) *Planner {
	return NewPlannerWithClock(t, window, realClock{})
}

// NewPlannerWithClock creates a Planner with a custom clock (for testing).
func NewPlannerWithClock(t Thresholds, window time.Duration, clock Clock) *Planner {
	def := DefaultThresholds()
	if t.SmallMax <= 0 {
		t.SmallMax = def.SmallMax
	}
	if t.MediumMax <= t.SmallMax {
		t.MediumMax = def.MediumMax
	}
	if t.MediumFraction <= 0 {
		t.MediumFraction = def.MediumFraction
	}
	if t.LargeFraction <= 0 {
		t.LargeFraction = def.LargeFraction
	}
	if t.MediumCap <= 0 {
		t.MediumCap = def.MediumCap
	}
	if t.LargeCap <= 0 {
		t.LargeCap = def.LargeCap
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Planner{thresholds: t, window: window, clock: clock}
}

// PlanFor maps a table's row count to a sample plan. A larger bucket
// never carries a larger cap than a smaller one.
func (p *Planner) PlanFor(table string, rowCount int64) Plan {
	if rowCount < 0 {
		rowCount = 0
	}

	plan := Plan{RowCount: rowCount, SelectionKey: p.selectionKey(table)}

	switch {
	case rowCount < p.thresholds.SmallMax:
		plan.Bucket = BucketSmall
		plan.Fraction = 1.0
		plan.Rows = rowCount
	case rowCount < p.thresholds.MediumMax:
		plan.Bucket = BucketMedium
		plan.Fraction = p.thresholds.MediumFraction
		plan.Cap = p.thresholds.MediumCap
		plan.Rows = resolve(rowCount, plan.Fraction, plan.Cap)
	default:
		plan.Bucket = BucketLarge
		plan.Fraction = p.thresholds.LargeFraction
		plan.Cap = p.thresholds.LargeCap
		plan.Rows = resolve(rowCount, plan.Fraction, plan.Cap)
	}

	return plan
}

func resolve(rowCount int64, fraction float64, capRows int) int64 {
	n := int64(float64(rowCount) * fraction)
	if n < 1 {
		n = 1
	}
	if int64(capRows) < n {
		n = int64(capRows)
	}
	return n
}

// selectionKey hashes the table name together with the current time
// bucket. Within one window the key is constant, so stride sampling
// picks the same rows and cached results stay coherent.
func (p *Planner) selectionKey(table string) uint64 {
	bucket := p.clock.Now().UnixNano() / int64(p.window)
	h := fnv.New64a()
	h.Write([]byte(table))
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(bucket >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}
