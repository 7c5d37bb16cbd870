package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// config, e.g. "ingest.concurrency".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

const maxMonthsAhead = 36

var (
	knownKinds    = []string{"postgres", "sqlite", "memory"}
	knownBackends = []string{"none", "pushgateway", "datadog"}
	knownLevels   = []string{"debug", "info", "warn", "error"}
	knownFormats  = []string{"json", "console"}
)

// Validate performs static checks over c without mutating it. Callers decide
// whether warnings are fatal.
func Validate(c Config) []Issue {
	var issues []Issue
	issues = append(issues, validateDatabase(c.Database, c.Ingest)...)
	issues = append(issues, validateIngest(c.Ingest)...)
	issues = append(issues, validatePartitions(c.Partitions)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	issues = append(issues, validateLog(c.Log)...)
	return issues
}

func oneOf(v string, known []string) bool {
	for _, k := range known {
		if v == k {
			return true
		}
	}
	return false
}

func validateDatabase(d Database, in Ingest) []Issue {
	var issues []Issue

	if !oneOf(d.Kind, knownKinds) {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "database.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; want one of %s", d.Kind, strings.Join(knownKinds, ", ")),
		})
	}

	switch d.Kind {
	case "postgres":
		if strings.TrimSpace(d.ConnString()) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "database.dsn",
				Message:  "postgres requires either a dsn or a host",
			})
		}
		if d.MaxConnections > 0 && d.MaxConnections < in.Concurrency {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "database.max_connections",
				Message: fmt.Sprintf("max_connections (%d) is below ingest.concurrency (%d); workers would starve the pool",
					d.MaxConnections, in.Concurrency),
			})
		}
		if d.MinConnections > d.MaxConnections && d.MaxConnections > 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "database.min_connections",
				Message:  "min_connections exceeds max_connections",
			})
		}
	case "sqlite":
		if strings.TrimSpace(d.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "database.dsn",
				Message:  "sqlite requires a dsn (database file path)",
			})
		}
	}
	return issues
}

func validateIngest(in Ingest) []Issue {
	var issues []Issue

	if in.Concurrency < 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ingest.concurrency",
			Message:  "concurrency must be >= 1",
		})
	}
	if in.ChunkSize < 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ingest.chunk_size",
			Message:  "chunk_size must be >= 1",
		})
	}
	if in.MaxFailures < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ingest.max_failures",
			Message:  "max_failures must be >= 0 (0 means unlimited)",
		})
	}
	if in.ProgressEvery < 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "ingest.progress_every",
			Message:  "progress_every < 1 disables progress events",
		})
	}
	if len(in.Patterns) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "ingest.patterns",
			Message:  "no patterns configured; the built-in set will be used",
		})
	}
	for i, p := range in.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("ingest.patterns[%d]", i),
				Message:  fmt.Sprintf("invalid pattern %q: %v", p, err),
			})
		}
	}
	return issues
}

func validatePartitions(p Partitions) []Issue {
	var issues []Issue
	if p.MonthsAhead < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "partitions.months_ahead",
			Message:  "months_ahead must be >= 0",
		})
	} else if p.MonthsAhead > maxMonthsAhead {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "partitions.months_ahead",
			Message:  fmt.Sprintf("months_ahead %d provisions more than %d empty partitions per table", p.MonthsAhead, maxMonthsAhead),
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	if !oneOf(m.Backend, knownBackends) {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want one of %s", m.Backend, strings.Join(knownBackends, ", ")),
		})
	}
	switch m.Backend {
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires pushgateway_url",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			})
		}
	}
	return issues
}

func validateLog(l Log) []Issue {
	var issues []Issue
	if !oneOf(l.Level, knownLevels) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "log.level",
			Message:  fmt.Sprintf("unknown log level %q; info will be used", l.Level),
		})
	}
	if !oneOf(l.Format, knownFormats) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown log format %q; json will be used", l.Format),
		})
	}
	return issues
}
