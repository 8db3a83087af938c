// Package health performs a single probe against one monitored component.
// It is deliberately side-effect free: no retries, no persistence. Retry
// policy lives in the scheduler's fixed sweep interval.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"vigil/internal/models"
)

type Checker struct {
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	// procRoot is "/proc" in production; tests point it at a fixture dir.
	procRoot string
}

func NewChecker(timeout time.Duration, logger *slog.Logger) *Checker {
	return &Checker{
		http:     &http.Client{Timeout: timeout},
		timeout:  timeout,
		log:      logger,
		now:      time.Now,
		procRoot: "/proc",
	}
}

// Check probes one component and returns the result. Process components
// that are not running are DOWN immediately, without a protocol probe.
func (c *Checker) Check(ctx context.Context, comp models.Component) models.HealthCheckResult {
	res := models.HealthCheckResult{
		Component: comp.Name,
		TS:        c.now().UTC(),
		Status:    models.StatusUnknown,
		Metrics:   map[string]float64{},
	}

	if comp.Kind == models.KindProcess {
		alive, err := c.processAlive(comp)
		if err != nil {
			res.Status = models.StatusDown
			res.Error = err.Error()
			return res
		}
		if !alive {
			res.Status = models.StatusDown
			res.Error = "process not running"
			return res
		}
		if comp.CheckURL == "" {
			res.Status = models.StatusHealthy
			return res
		}
	}

	return c.probe(ctx, comp, res)
}

func (c *Checker) probe(ctx context.Context, comp models.Component, res models.HealthCheckResult) models.HealthCheckResult {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, comp.CheckURL, nil)
	if err != nil {
		res.Status = models.StatusError
		res.Error = fmt.Sprintf("build probe request: %v", err)
		return res
	}
	start := c.now()
	resp, err := c.http.Do(req)
	res.ResponseTime = c.now().Sub(start)
	res.Metrics["response_time_ms"] = float64(res.ResponseTime) / float64(time.Millisecond)
	if err != nil {
		// Timeouts and connection failures both mean the endpoint is
		// unreachable, not merely degraded.
		res.Status = models.StatusDown
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Status = models.StatusHealthy
	} else {
		res.Status = models.StatusDegraded
		res.Error = fmt.Sprintf("probe returned status %d", resp.StatusCode)
	}
	res.Metrics["http_status"] = float64(resp.StatusCode)
	return res
}

// processAlive reads the component's pid file and checks for a matching
// /proc entry. A missing or malformed pid file counts as not running.
func (c *Checker) processAlive(comp models.Component) (bool, error) {
	b, err := os.ReadFile(comp.PIDFile)
	if err != nil {
		return false, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return false, fmt.Errorf("invalid pid in %s", comp.PIDFile)
	}
	if _, err := os.Stat(fmt.Sprintf("%s/%d", c.procRoot, pid)); err != nil {
		return false, nil
	}
	return true, nil
}
