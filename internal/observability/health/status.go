package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthMonitor runs the registered dependency checks on demand.
type HealthMonitor struct {
	logger    *logrus.Logger
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	startTime time.Time
}

// HealthCheck defines a health check function
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
	Critical() bool
	Timeout() time.Duration
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// SystemStatus represents overall system health
type SystemStatus struct {
	OverallStatus  HealthStatus            `json:"status"`
	CheckResults   map[string]HealthResult `json:"checks"`
	CriticalIssues []string                `json:"critical_issues,omitempty"`
	Uptime         string                  `json:"uptime"`
	Timestamp      time.Time               `json:"timestamp"`
}

// BasicHealthCheck adapts a function to HealthCheck.
type BasicHealthCheck struct {
	name      string
	checkFunc func(ctx context.Context) error
	critical  bool
	timeout   time.Duration
}

// NewBasicHealthCheck creates a check. Critical failures make the whole
// system unhealthy; others only degrade it.
func NewBasicHealthCheck(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) error) *BasicHealthCheck {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BasicHealthCheck{
		name:      name,
		checkFunc: fn,
		critical:  critical,
		timeout:   timeout,
	}
}

func (c *BasicHealthCheck) Name() string                    { return c.name }
func (c *BasicHealthCheck) Check(ctx context.Context) error { return c.checkFunc(ctx) }
func (c *BasicHealthCheck) Critical() bool                  { return c.critical }
func (c *BasicHealthCheck) Timeout() time.Duration          { return c.timeout }

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger *logrus.Logger) *HealthMonitor {
	if logger == nil {
		logger = logrus.New()
	}

	return &HealthMonitor{
		logger:    logger,
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
	}
}

// RegisterCheck registers a new health check
func (hm *HealthMonitor) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checks[check.Name()] = check
	hm.logger.WithField("check", check.Name()).Debug("Registered health check")
}

// CheckAll runs every check concurrently and aggregates the outcome.
func (hm *HealthMonitor) CheckAll(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	results := make([]HealthResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			results[i] = hm.executeCheck(ctx, check)
		}(i, check)
	}
	wg.Wait()

	status := &SystemStatus{
		OverallStatus: StatusHealthy,
		CheckResults:  make(map[string]HealthResult, len(checks)),
		Uptime:        time.Since(hm.startTime).Round(time.Second).String(),
		Timestamp:     time.Now().UTC(),
	}
	for i, check := range checks {
		status.CheckResults[check.Name()] = results[i]
		if results[i].Status != StatusUnhealthy {
			continue
		}
		if check.Critical() {
			status.CriticalIssues = append(status.CriticalIssues, check.Name())
			status.OverallStatus = StatusUnhealthy
		} else if status.OverallStatus == StatusHealthy {
			status.OverallStatus = StatusDegraded
		}
	}
	sort.Strings(status.CriticalIssues)
	return status
}

// executeCheck executes a single health check
func (hm *HealthMonitor) executeCheck(ctx context.Context, check HealthCheck) HealthResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout())
	defer cancel()

	err := check.Check(checkCtx)
	result := HealthResult{
		Status:   StatusHealthy,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		hm.logger.WithFields(logrus.Fields{
			"check":    check.Name(),
			"critical": check.Critical(),
		}).WithError(err).Warn("Health check failed")
	}
	return result
}
