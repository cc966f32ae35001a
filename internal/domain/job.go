package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// Job is an asynchronous processing request. Params holds the same
// key/value parameters accepted by the synchronous endpoints.
type Job struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Filename   string            `json:"filename"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	SourceKey  string            `json:"source_key"`
	OutputKey  string            `json:"output_key,omitempty"`
	Params     map[string]string `json:"params"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Param returns a parameter value or "" when absent.
func (j Job) Param(key string) string {
	if j.Params == nil {
		return ""
	}
	return j.Params[key]
}

func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// ValidateWebhookURL accepts empty values and absolute http(s) URLs.
func ValidateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: webhook_url: %v", ErrInvalidParameter, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: webhook_url must use http or https", ErrInvalidParameter)
	}
	if u.Host == "" {
		return errors.Join(ErrInvalidParameter, errors.New("webhook_url must be absolute"))
	}
	return nil
}
