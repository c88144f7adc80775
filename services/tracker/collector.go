package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rectrack-backend/lib/scrapers/recwell"
)

// ReadingSource is the extraction side of a collection cycle,
// satisfied by *recwell.Scraper.
type ReadingSource interface {
	Scrape(ctx context.Context) ([]recwell.Reading, error)
}

type CollectorState int

const (
	StateIdle CollectorState = iota
	StateRunning
	StateStopping
)

func (s CollectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

var ErrCycleInProgress = errors.New("a collection cycle is already running")

// Collector runs one collection cycle at a time: scrape, then ingest
// every reading. It does not schedule itself, the trigger belongs to
// the caller. Cycle state moves idle -> running -> (stopping ->) idle
// and is readable through State while a cycle is in flight.
type Collector struct {
	source ReadingSource
	store  Store

	mu    sync.Mutex
	state CollectorState
}

func NewCollector(source ReadingSource, store Store) *Collector {
	return &Collector{
		source: source,
		store:  store,
	}
}

func (c *Collector) State() CollectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop asks an in-flight cycle to wind down after the reading it is
// currently ingesting. It has no effect when no cycle is running.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.state = StateStopping
	}
}

func (c *Collector) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrCycleInProgress
	}
	c.state = StateRunning
	return nil
}

func (c *Collector) stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateStopping
}

func (c *Collector) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
}

// RunCycle performs one collection pipeline run and returns how many
// readings were ingested. A scrape that finds nothing is a normal
// zero-reading cycle; a scrape error (renderer failed to start) or a
// persistence error is surfaced so the scheduler can retry next cycle.
func (c *Collector) RunCycle(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "RunCycle")
	defer span.End()

	err := c.begin()
	if err != nil {
		return 0, err
	}
	defer c.finish()

	start := time.Now()
	readings, err := c.source.Scrape(ctx)
	if err != nil {
		return 0, fmt.Errorf("scrape failed: %w", err)
	}

	facilities := map[string]bool{}
	ingested := 0
	for _, reading := range readings {
		if c.stopping() {
			slog.InfoContext(ctx, "cycle stopped early", "ingested", ingested)
			break
		}
		err := c.store.Ingest(ctx, reading)
		if err != nil {
			return ingested, fmt.Errorf("failed to ingest reading for %q: %w", reading.Name, err)
		}
		facilities[reading.Name] = true
		ingested++
	}

	if ingested == 0 {
		slog.InfoContext(ctx, "collection cycle found no data",
			"duration", time.Since(start))
	} else {
		slog.InfoContext(ctx, "collection cycle complete",
			"readings", ingested,
			"facilities", len(facilities),
			"duration", time.Since(start))
	}
	return ingested, nil
}
