package models

import "time"

type ComponentKind string

const (
	KindProcess  ComponentKind = "process"
	KindEndpoint ComponentKind = "external-endpoint"
)

type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
	StatusError    Status = "ERROR"
	StatusUnknown  Status = "UNKNOWN"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
)

// Component is a monitored target. Declared at startup, immutable during a run.
type Component struct {
	Name       string
	Kind       ComponentKind
	CheckURL   string   // optional structured status endpoint
	PIDFile    string   // liveness source for process components
	RestartCmd []string // optional recovery command, argv form
	DependsOn  []string
}

// HealthCheckResult is one probe outcome. Append-only, never mutated.
type HealthCheckResult struct {
	Component    string
	TS           time.Time
	Status       Status
	ResponseTime time.Duration
	Error        string
	Metrics      map[string]float64
}

type MetricSample struct {
	Component string
	Metric    string
	TS        time.Time
	Value     float64
	Unit      string
	Trend     Trend
	Anomalous bool
}

// Baseline is the rolling profile for one (component, metric) key.
type Baseline struct {
	Component string
	Metric    string
	Mean      float64
	Min       float64
	Max       float64
	Count     int64
	UpdatedAt time.Time
}

type AlertEvent struct {
	ID        string
	TS        time.Time
	Severity  Severity
	Component string
	Message   string
	Resolved  bool
	Escalated bool
}

type RecoveryAttempt struct {
	ID        string
	TS        time.Time
	Component string
	Action    string
	Detail    string
	Success   bool
	Duration  time.Duration
	Message   string
	Attempt   int
}

type MetricSummary struct {
	Component string  `json:"component"`
	Metric    string  `json:"metric"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Samples   int64   `json:"samples"`
}

type ComponentStatus struct {
	Component string    `json:"component"`
	Status    Status    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

type Report struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	StatusCounts     map[Status]int    `json:"status_counts"`
	Components       []ComponentStatus `json:"components"`
	UnresolvedAlerts []AlertEvent      `json:"unresolved_alerts"`
	Metrics          []MetricSummary   `json:"metrics"`
	Recommendations  []string          `json:"recommendations"`
}
