// Package health runs preflight checks against the cluster before jobs are
// executed.
package health

import (
	"context"
	"errors"
	"time"

	"indexctl/internal/apperrors"
)

// ReadinessChecker verifies that a dependency can accept work.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// RepositoryGetter looks up a snapshot repository.
type RepositoryGetter interface {
	GetRepository(ctx context.Context, name string) (map[string]any, error)
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the aggregated preflight result.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker performs preflight checks.
type Checker struct {
	cluster    ReadinessChecker
	repos      RepositoryGetter
	repository string
	timeout    time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithRepository adds a check that the named snapshot repository exists.
// A missing repository is reported as degraded since backup jobs create it.
func WithRepository(repos RepositoryGetter, name string) Option {
	return func(c *Checker) {
		c.repos = repos
		c.repository = name
	}
}

// WithTimeout sets the per-check timeout (default: 5s).
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a checker for the given cluster.
func NewChecker(cluster ReadinessChecker, opts ...Option) *Checker {
	c := &Checker{
		cluster: cluster,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check runs every configured check. The overall status is the worst of the
// individual results.
func (c *Checker) Check(ctx context.Context) *Response {
	checks := map[string]CheckResult{
		"cluster": c.checkCluster(ctx),
	}
	if c.repository != "" && c.repos != nil {
		checks["repository"] = c.checkRepository(ctx)
	}

	overall := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return &Response{
		Status: overall,
		Checks: checks,
	}
}

func (c *Checker) checkCluster(ctx context.Context) CheckResult {
	if c.cluster == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "cluster not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.cluster.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy}
}

func (c *Checker) checkRepository(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.repos.GetRepository(ctx, c.repository)
	switch {
	case err == nil:
		return CheckResult{Status: StatusHealthy}
	case errors.Is(err, apperrors.ErrNotFound):
		return CheckResult{
			Status:  StatusDegraded,
			Message: "repository " + c.repository + " does not exist yet",
		}
	default:
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsUsable reports whether jobs can run, which excludes only unhealthy.
func (r *Response) IsUsable() bool {
	return r.Status != StatusUnhealthy
}
