package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"vigil/internal/models"
)

// resourceSweep samples host CPU and memory, records them and raises
// threshold alerts when a reading crosses into a new band.
func (s *Scheduler) resourceSweep(ctx context.Context) {
	snap, err := s.host.Collect()
	if err != nil {
		s.log.Warn("host resource collection failed", "err", err)
		return
	}
	s.recordHostMetric(ctx, "cpu_pct", snap.CPUPct, "%", snap.TS)
	s.recordHostMetric(ctx, "mem_pct", snap.MemPct, "%", snap.TS)
	s.recordHostMetric(ctx, "load1", snap.Load1, "", snap.TS)

	s.checkThreshold(ctx, "cpu_pct", snap.CPUPct, s.cfg.Thresholds.CPUHighPct, s.cfg.Thresholds.CPUCriticalPct,
		fmt.Sprintf("host CPU at %.1f%%", snap.CPUPct))
	s.checkThreshold(ctx, "mem_pct", snap.MemPct, s.cfg.Thresholds.MemHighPct, s.cfg.Thresholds.MemCriticalPct,
		fmt.Sprintf("host memory at %.1f%%", snap.MemPct))
}

// storageSweep samples disk usage under the data directory mount.
func (s *Scheduler) storageSweep(ctx context.Context) {
	du, err := s.host.Disk(s.cfg.DataDir)
	if err != nil {
		s.log.Warn("disk usage collection failed", "path", s.cfg.DataDir, "err", err)
		return
	}
	s.recordHostMetric(ctx, "disk_pct", du.UsedPct, "%", s.now().UTC())
	s.checkThreshold(ctx, "disk_pct", du.UsedPct, s.cfg.Thresholds.DiskHighPct, s.cfg.Thresholds.DiskCriticalPct,
		fmt.Sprintf("disk usage at %.1f%% (%d/%d bytes)", du.UsedPct, du.UsedBytes, du.TotalBytes))
}

// networkSweep measures TCP connect latency to each external endpoint
// and records it per component. Unreachable endpoints are the component
// sweep's problem; here only latency is tracked.
func (s *Scheduler) networkSweep(ctx context.Context) {
	for _, comp := range s.components {
		if comp.Kind != models.KindEndpoint || comp.CheckURL == "" {
			continue
		}
		addr, err := dialAddr(comp.CheckURL)
		if err != nil {
			s.log.Warn("network sweep: bad check url", "component", comp.Name, "err", err)
			continue
		}
		start := s.now()
		conn, err := (&net.Dialer{Timeout: s.cfg.ProbeTimeout.Std()}).DialContext(ctx, "tcp", addr)
		latency := s.now().Sub(start)
		if err != nil {
			s.log.Debug("network sweep: dial failed", "component", comp.Name, "err", err)
			continue
		}
		_ = conn.Close()

		ms := float64(latency) / float64(time.Millisecond)
		if _, err := s.recorder.Record(ctx, comp.Name, "net_latency_ms", ms, "ms", s.now().UTC()); err != nil {
			s.log.Error("record net latency", "component", comp.Name, "err", err)
		}
		s.checkComponentThreshold(ctx, comp.Name, "net_latency_ms", ms,
			s.cfg.Thresholds.LatencyHighMs, s.cfg.Thresholds.LatencyCriticalMs,
			fmt.Sprintf("network latency at %.0fms", ms))
	}
}

func (s *Scheduler) recordHostMetric(ctx context.Context, metric string, value float64, unit string, ts time.Time) {
	if _, err := s.recorder.Record(ctx, hostComponent, metric, value, unit, ts); err != nil {
		s.log.Error("record host metric", "metric", metric, "err", err)
	}
}

func (s *Scheduler) checkThreshold(ctx context.Context, metric string, value, high, critical float64, msg string) {
	s.checkComponentThreshold(ctx, hostComponent, metric, value, high, critical, msg)
}

// checkComponentThreshold raises an alert only when the reading enters a
// new band (none -> high -> critical, or back down), so a persistently
// hot metric does not alert on every sweep.
func (s *Scheduler) checkComponentThreshold(ctx context.Context, component, metric string, value, high, critical float64, msg string) {
	level := thresholdLevel(value, high, critical)
	key := component + "/" + metric

	s.mu.Lock()
	prev := s.lastThreshold[key]
	s.lastThreshold[key] = level
	s.mu.Unlock()
	if level == prev {
		return
	}
	if level == "" {
		s.alerts.Resolve(ctx, component)
		return
	}
	s.alerts.Raise(ctx, level, component, msg)
}

func thresholdLevel(value, high, critical float64) models.Severity {
	switch {
	case value >= critical:
		return models.SeverityCritical
	case value >= high:
		return models.SeverityWarning
	default:
		return ""
	}
}

// dialAddr reduces a check URL to a host:port dial target.
func dialAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}
