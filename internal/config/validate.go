package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/shlex"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path names the offending setting.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks c for problems that would make a run fail or misbehave.
func (c Config) Validate() []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch c.DB.Kind {
	case "postgres", "mssql", "sqlite":
	default:
		add(SeverityError, "DB_KIND", "unsupported backend %q (want postgres, mssql or sqlite)", c.DB.Kind)
	}
	if c.DB.DSNOverride == "" && c.DB.Kind != "sqlite" && c.DB.Password == "" {
		add(SeverityWarning, "DB_PASSWORD", "empty password")
	}

	if c.Schema == "" {
		add(SeverityError, "BRONZE_SCHEMA", "must not be empty")
	} else if strings.ContainsAny(c.Schema, ". \t") {
		add(SeverityError, "BRONZE_SCHEMA", "must be a single identifier, got %q", c.Schema)
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		add(SeverityError, "API_BASE_URL", "must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		add(SeverityError, "API_TIMEOUT", "must be positive")
	}
	if c.API.Retries < 0 {
		add(SeverityError, "API_RETRIES", "must not be negative")
	}

	if c.Transform.Enabled {
		if argv, err := shlex.Split(c.Transform.Command); err != nil {
			add(SeverityError, "TRANSFORM_COMMAND", "cannot parse: %v", err)
		} else if len(argv) == 0 {
			add(SeverityError, "TRANSFORM_COMMAND", "must not be empty when TRANSFORM_ENABLED is true")
		}
	}
	if c.Transform.Retries < 0 {
		add(SeverityError, "TRANSFORM_RETRIES", "must not be negative")
	}
	if c.Transform.RetryDelay < 0 {
		add(SeverityError, "TRANSFORM_RETRY_DELAY", "must not be negative")
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	case "pushgateway", "prometheus":
		if c.Metrics.PushgatewayURL == "" {
			add(SeverityError, "PUSHGATEWAY_URL", "required when METRICS_BACKEND=%s", c.Metrics.Backend)
		}
	default:
		add(SeverityError, "METRICS_BACKEND", "unsupported backend %q (want none, datadog or pushgateway)", c.Metrics.Backend)
	}

	return issues
}
