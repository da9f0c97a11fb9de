// Package health tracks the liveness of inputs and sinks and folds them into
// a single process-wide verdict served on /healthz.
package health

import (
	"regexp"
	"time"
)

// Level is the coarse health of a component
type Level string

const (
	Healthy   Level = "healthy"
	Degraded  Level = "degraded"
	Unhealthy Level = "unhealthy"
)

var (
	urlPattern        = regexp.MustCompile(`(?i)(https?|nats|tls)://[^\s]+`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|secret)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component at a point in time
type Status struct {
	Component string    `json:"component"`
	Level     Level     `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Parts     []Status  `json:"parts,omitempty"`
}

// OK reports whether the component is fully healthy
func (s Status) OK() bool { return s.Level == Healthy }

func newStatus(component string, level Level, message string) Status {
	return Status{Component: component, Level: level, Message: message, Timestamp: time.Now()}
}

// FromError builds an unhealthy status from err with URLs and credentials
// stripped from the message. A nil err yields a healthy status.
func FromError(component string, err error) Status {
	if err == nil {
		return newStatus(component, Healthy, "ok")
	}
	msg := urlPattern.ReplaceAllString(err.Error(), "[URL]")
	msg = credentialPattern.ReplaceAllString(msg, "[REDACTED]")
	return newStatus(component, Unhealthy, msg)
}

// Aggregate folds parts into one status. The worst level among parts wins.
func Aggregate(component string, parts []Status) Status {
	level := Healthy
	for _, p := range parts {
		switch p.Level {
		case Unhealthy:
			level = Unhealthy
		case Degraded:
			if level == Healthy {
				level = Degraded
			}
		}
	}

	msg := "all components healthy"
	switch level {
	case Degraded:
		msg = "one or more components degraded"
	case Unhealthy:
		msg = "one or more components unhealthy"
	}

	s := newStatus(component, level, msg)
	s.Parts = append([]Status(nil), parts...)
	return s
}
