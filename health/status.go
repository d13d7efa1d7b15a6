// Package health tracks the state of the long-lived parts of the replay
// server (the listener, the NATS connection) for the /health endpoint.
package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the coarse health level of a component.
type State string

// Health levels, best first.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is the health of one component or, with SubStatuses, of the
// whole process.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Details     *Details  `json:"details,omitempty"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// Details carries optional counters for a status.
type Details struct {
	Sessions     int64     `json:"sessions,omitempty"`
	Failures     int64     `json:"failures,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// IsDegraded reports whether the component works with reduced function.
func (s Status) IsDegraded() bool {
	return s.State == StateDegraded
}

// IsUnhealthy reports whether the component is not working.
func (s Status) IsUnhealthy() bool {
	return s.State == StateUnhealthy
}

// WithDetails returns a copy of s carrying d.
func (s Status) WithDetails(d Details) Status {
	s.Details = &d
	return s
}

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// FromError creates a status at state whose message is err with addresses,
// paths and credentials masked, since /health is often exposed wider than
// the logs.
func FromError(component string, state State, err error) Status {
	msg := "unknown error"
	if err != nil {
		msg = sanitize(err.Error())
	}
	return newStatus(component, state, msg)
}

// Aggregate rolls sub-statuses up: any unhealthy makes the result
// unhealthy, otherwise any degraded makes it degraded.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no components registered")
	}

	state := StateHealthy
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			state = StateUnhealthy
		case sub.IsDegraded() && state == StateHealthy:
			state = StateDegraded
		}
	}

	var status Status
	switch state {
	case StateUnhealthy:
		status = NewUnhealthy(component, "one or more components are unhealthy")
	case StateDegraded:
		status = NewDegraded(component, "one or more components are degraded")
	default:
		status = NewHealthy(component, "all components are healthy")
	}
	status.SubStatuses = append([]Status(nil), subs...)
	return status
}

var (
	urlPattern        = regexp.MustCompile(`[a-z]+://[^\s]+`)
	ipPortPattern     = regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}(:\d{1,5})?\b`)
	pathPattern       = regexp.MustCompile(`(^|\s)/[a-zA-Z0-9/_.-]+`)
	credentialPattern = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

func sanitize(msg string) string {
	msg = urlPattern.ReplaceAllString(msg, "[URL]")
	msg = ipPortPattern.ReplaceAllString(msg, "[ADDR]")
	msg = pathPattern.ReplaceAllString(msg, "$1[PATH]")
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "credential") {
		msg = credentialPattern.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}
