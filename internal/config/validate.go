package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"lemonetl/internal/logging"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the JSON path of the offending
// field (e.g. "storage.kind").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
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

// Validate checks c and returns every issue found. It does not touch the
// filesystem beyond what the fields name, and it never connects anywhere.
func Validate(c Import) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(c.Source.Path) == "" {
		add(SeverityError, "source.path", "is required")
	}
	if c.Source.Comma != "" && c.Source.Comma != `\t` {
		if utf8.RuneCountInString(c.Source.Comma) != 1 {
			add(SeverityError, "source.comma", "must be a single character, got %q", c.Source.Comma)
		} else if r := c.Source.CommaRune(); r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			add(SeverityError, "source.comma", "%q cannot be used as a delimiter", c.Source.Comma)
		}
	}
	if c.Source.DateLayout != "" && !layoutHasDate(c.Source.DateLayout) {
		add(SeverityError, "source.date_layout", "%q does not describe a day, month and year", c.Source.DateLayout)
	}
	if c.Source.NullMarkers != nil && len(c.Source.NullMarkers) == 0 {
		add(SeverityWarning, "source.null_markers", "empty list disables null normalization")
	}

	switch {
	case c.Storage.Kind == "":
		add(SeverityError, "storage.kind", "is required (one of %s)", strings.Join(KnownStorageKinds, ", "))
	case !slices.Contains(KnownStorageKinds, c.Storage.Kind):
		add(SeverityError, "storage.kind", "unsupported kind %q (one of %s)", c.Storage.Kind, strings.Join(KnownStorageKinds, ", "))
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "is required")
	} else if strings.Contains(c.Storage.DSN, "${") {
		add(SeverityWarning, "storage.dsn", "contains an unexpanded variable")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add(SeverityError, "logging.level", "%v", err)
	}

	if c.Metrics.Backend != "" && !slices.Contains(KnownMetricsBackends, c.Metrics.Backend) {
		add(SeverityError, "metrics.backend", "unknown backend %q (one of %s)", c.Metrics.Backend, strings.Join(KnownMetricsBackends, ", "))
	}
	if c.Metrics.Backend == "pushgateway" && c.Metrics.PushgatewayURL == "" {
		add(SeverityError, "metrics.pushgateway_url", "is required for the pushgateway backend")
	}
	if c.Metrics.FlushEvery.Std() < 0 {
		add(SeverityError, "metrics.flush_every", "must not be negative")
	} else if c.Metrics.Backend == "datadog" && c.Metrics.FlushEvery.Std() > 0 && c.Metrics.FlushEvery.Std() < time.Second {
		add(SeverityWarning, "metrics.flush_every", "%s is very short for datadog submissions", c.Metrics.FlushEvery.Std())
	}

	return issues
}

// layoutHasDate reports whether a time layout carries day, month and year
// elements, so that a parse can yield a calendar date.
func layoutHasDate(layout string) bool {
	probe := time.Date(2021, time.November, 23, 0, 0, 0, 0, time.UTC)
	got, err := time.Parse(layout, probe.Format(layout))
	if err != nil {
		return false
	}
	return got.Year() == 2021 && got.Month() == time.November && got.Day() == 23
}
