package distributed

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryPolicy governs worker reconnect attempts: a bounded number of
// tries with exponential backoff between them.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
}

// DefaultRetryPolicy returns the default: three attempts, 10ms initial
// backoff doubling up to a 5s ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialBackoff:  10 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		BackoffMultiple: 2,
	}
}

// Backoff returns the wait after failed attempt N (1-indexed), before
// attempt N+1: InitialBackoff after the first attempt, multiplied by
// BackoffMultiple for each later one, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiple)
		if d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// ConnectionOptions configures a Worker's connection to a Host, loaded
// from a YAML file: read the file, unmarshal, apply defaults.
type ConnectionOptions struct {
	HostAddress   string      `yaml:"host_address"`
	SendQueueSize int         `yaml:"send_queue_size"`
	RecvQueueSize int         `yaml:"recv_queue_size"`
	Retry         RetryPolicy `yaml:"retry"`
	Debug         bool        `yaml:"debug"`
}

// LoadConnectionOptions reads and parses a YAML connection options
// file, applying defaults for zero-valued fields. Field values are not
// range-checked.
func LoadConnectionOptions(path string) (*ConnectionOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection options file: %w", err)
	}

	var opts ConnectionOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse connection options file: %w", err)
	}

	if opts.SendQueueSize == 0 {
		opts.SendQueueSize = 64
	}
	if opts.RecvQueueSize == 0 {
		opts.RecvQueueSize = 64
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &opts, nil
}
