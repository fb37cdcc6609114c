package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/passdeck/passdeck/internal/client"
	"github.com/passdeck/passdeck/internal/collection"
	"github.com/passdeck/passdeck/internal/metrics"
	"github.com/passdeck/passdeck/internal/resource"
)

// Status represents the health of a collection source.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SourceHealth holds refresh health for one resource kind.
type SourceHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	Items               int       `json:"items"`
}

// Target is a view the checker keeps fresh.
type Target interface {
	Kind() resource.Kind
	Refresh(ctx context.Context) error
	Len() int
}

// Config tunes the checker.
type Config struct {
	Interval         time.Duration
	FailureThreshold int
	Timeout          time.Duration
}

// Checker periodically refreshes registered views and tracks whether the
// control plane is answering for each kind.
type Checker struct {
	mu      sync.RWMutex
	sources map[resource.Kind]*SourceHealth
	targets map[resource.Kind]Target
	metrics *metrics.Collector

	interval         time.Duration
	failureThreshold int
	timeout          time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new checker. m may be nil.
func NewChecker(m *metrics.Collector, cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Checker{
		sources:          make(map[resource.Kind]*SourceHealth),
		targets:          make(map[resource.Kind]Target),
		metrics:          m,
		interval:         cfg.Interval,
		failureThreshold: cfg.FailureThreshold,
		timeout:          cfg.Timeout,
		stopCh:           make(chan struct{}),
	}
}

// Register adds a target. A later registration for the same kind
// replaces the earlier one.
func (c *Checker) Register(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[t.Kind()] = t
}

// Start begins periodic refreshing.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("view refresher started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("view refresher stopped")
}

func (c *Checker) run() {
	// Run immediately on start
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	c.mu.RLock()
	targets := make([]Target, 0, len(c.targets))
	for _, t := range c.targets {
		targets = append(targets, t)
	}
	c.mu.RUnlock()

	// Refresh in parallel with a bounded worker pool.
	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, t := range targets {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.CheckNow(t)
		}()
	}
	wg.Wait()
}

// CheckNow refreshes one target synchronously and records the outcome.
func (c *Checker) CheckNow(t Target) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	kind := t.Kind()
	start := time.Now()
	err := t.Refresh(ctx)
	elapsed := time.Since(start)

	if errors.Is(err, collection.ErrClosed) {
		c.Remove(kind)
		return err
	}
	if c.metrics != nil {
		if err != nil {
			c.metrics.FetchError(kind, errorReason(err))
		} else {
			c.metrics.FetchCompleted(kind, elapsed, t.Len())
		}
	}
	c.updateStatus(kind, err, t.Len())
	return err
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case client.IsAPIError(err):
		return "status"
	default:
		return "transport"
	}
}

func (c *Checker) updateStatus(kind resource.Kind, err error, items int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sh := c.getOrCreate(kind)
	sh.LastCheck = time.Now()

	if err == nil {
		if sh.ConsecutiveFailures > 0 {
			slog.Info("source recovered", "kind", kind, "failures", sh.ConsecutiveFailures)
		}
		sh.Status = StatusHealthy
		sh.ConsecutiveFailures = 0
		sh.LastError = ""
		sh.Items = items
	} else {
		sh.ConsecutiveFailures++
		sh.LastError = err.Error()
		if sh.ConsecutiveFailures >= c.failureThreshold {
			if sh.Status != StatusUnhealthy {
				slog.Warn("source marked unhealthy", "kind", kind, "failures", sh.ConsecutiveFailures, "err", err)
			}
			sh.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetSourceHealth(kind, sh.Status != StatusUnhealthy)
	}
}

func (c *Checker) getOrCreate(kind resource.Kind) *SourceHealth {
	sh, ok := c.sources[kind]
	if !ok {
		sh = &SourceHealth{Status: StatusUnknown}
		c.sources[kind] = sh
	}
	return sh
}

// IsHealthy returns whether a kind is healthy (or unknown, which is treated as healthy).
func (c *Checker) IsHealthy(kind resource.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sh, ok := c.sources[kind]
	if !ok {
		return true
	}
	return sh.Status != StatusUnhealthy
}

// GetStatus returns the health for a kind.
func (c *Checker) GetStatus(kind resource.Kind) SourceHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sh, ok := c.sources[kind]
	if !ok {
		return SourceHealth{Status: StatusUnknown}
	}
	return *sh
}

// GetAllStatuses returns health for all known kinds.
func (c *Checker) GetAllStatuses() map[resource.Kind]SourceHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[resource.Kind]SourceHealth, len(c.sources))
	for kind, sh := range c.sources {
		result[kind] = *sh
	}
	return result
}

// OverallHealthy returns true if no kind is unhealthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sh := range c.sources {
		if sh.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// Remove drops the target and health state for a kind.
func (c *Checker) Remove(kind resource.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sources, kind)
	delete(c.targets, kind)
	if c.metrics != nil {
		c.metrics.RemoveKind(kind)
	}
	slog.Info("removed source state", "kind", kind)
}
