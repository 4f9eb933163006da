package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/volley/internal/request"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the configuration after defaults have been applied.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.URL == "" {
		errs.Add("url", "a target URL is required")
	} else if _, err := request.ParseTarget(c.URL); err != nil {
		errs.Add("url", err.Error())
	}

	if c.Threads < 1 {
		errs.Add("threads", "must be at least 1")
	}
	if c.Connections < 1 {
		errs.Add("connections", "must be at least 1")
	} else if c.Threads >= 1 && c.Connections < c.Threads {
		errs.Add("connections", fmt.Sprintf("must be at least the number of threads (%d)", c.Threads))
	}
	if c.Backlog < 1 || c.Backlog > MaxBacklog {
		errs.Add("backlog", fmt.Sprintf("must be between 1 and %d", MaxBacklog))
	}

	if c.Duration < 0 {
		errs.Add("duration", "must not be negative")
	}
	if c.Number < 0 {
		errs.Add("number", "must not be negative")
	} else if c.Number > 0 && c.Threads >= 1 && c.Number < int64(c.Threads) {
		errs.Add("number", fmt.Sprintf("must be at least the number of threads (%d)", c.Threads))
	}
	if c.Meter < 0 {
		errs.Add("meter", "must not be negative")
	}

	if c.Request != "" && (c.Body != "" || c.Method != "" || len(c.Headers) > 0) {
		errs.Add("request", "a request file cannot be combined with method, body or headers")
	}
	for i, h := range c.Headers {
		if !strings.Contains(h, ":") || strings.ContainsAny(h, "\r\n") {
			errs.Add(fmt.Sprintf("headers[%d]", i), fmt.Sprintf("invalid header line %q", h))
		}
	}

	for i, p := range c.Percentiles {
		if p <= 0 || p > 100 {
			errs.Add(fmt.Sprintf("percentiles[%d]", i), "must be in (0, 100]")
		}
	}
	if c.Graph.Width < 0 || c.Graph.Height < 0 {
		errs.Add("graph", "dimensions must not be negative")
	}

	if pt := time.Duration(c.PollTimeout); pt < 0 || pt > MaxPollTimeout {
		errs.Add("pollTimeout", fmt.Sprintf("must be between 0 and %v", MaxPollTimeout))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
