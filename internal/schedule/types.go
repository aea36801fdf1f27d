package schedule

import (
	"context"
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("job already registered")
	ErrInvalidJob   = errors.New("job needs a name, a pattern and a run function")
)

// Job is a named maintenance task run on a cron pattern.
type Job struct {
	Name    string
	Pattern string
	Run     func(ctx context.Context) error
}

// Status is what the admin API shows about a job.
type Status struct {
	Name      string     `json:"name"`
	Pattern   string     `json:"pattern"`
	Next      *time.Time `json:"next,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

type ListResponse struct {
	Items []Status `json:"items"`
}
