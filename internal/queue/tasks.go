package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeProcessJob = "cutout:process"

var ErrInvalidPayload = errors.New("invalid process job payload")

// ProcessJobPayload only carries the job id; parameters live in the job store.
type ProcessJobPayload struct {
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewProcessJobTask(payload ProcessJobPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.JobID) == "" {
		return nil, fmt.Errorf("%w: job_id is required", ErrInvalidPayload)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessJob, body), nil
}

// ParseProcessJobPayload wraps decode failures with asynq.SkipRetry since a
// malformed payload never becomes valid.
func ParseProcessJobPayload(task *asynq.Task) (ProcessJobPayload, error) {
	var payload ProcessJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessJobPayload{}, fmt.Errorf("%w: %v: %w", ErrInvalidPayload, err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.JobID) == "" {
		return ProcessJobPayload{}, fmt.Errorf("%w: job_id is required: %w", ErrInvalidPayload, asynq.SkipRetry)
	}
	return payload, nil
}
