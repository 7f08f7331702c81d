package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestCheckAllHealthy(t *testing.T) {
	hm := NewHealthMonitor(nil)
	hm.RegisterCheck(NewBasicHealthCheck("redis", false, time.Second, ok))

	status := hm.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.OverallStatus)
	require.Contains(t, status.CheckResults, "redis")
	assert.Equal(t, StatusHealthy, status.CheckResults["redis"].Status)
}

func TestCheckAllDegradedAndUnhealthy(t *testing.T) {
	hm := NewHealthMonitor(nil)
	hm.RegisterCheck(NewBasicHealthCheck("redis", false, time.Second, failing))
	hm.RegisterCheck(NewBasicHealthCheck("s3", false, time.Second, ok))

	status := hm.CheckAll(context.Background())
	assert.Equal(t, StatusDegraded, status.OverallStatus)
	assert.Equal(t, "connection refused", status.CheckResults["redis"].Message)
	assert.Empty(t, status.CriticalIssues)

	hm.RegisterCheck(NewBasicHealthCheck("postgres", true, time.Second, failing))
	status = hm.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.OverallStatus)
	assert.Equal(t, []string{"postgres"}, status.CriticalIssues)
}

func TestCheckTimeout(t *testing.T) {
	hm := NewHealthMonitor(nil)
	hm.RegisterCheck(NewBasicHealthCheck("slow", true, 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status := hm.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.CheckResults["slow"].Status)
}

func TestNoChecks(t *testing.T) {
	status := NewHealthMonitor(nil).CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.OverallStatus)
	assert.Empty(t, status.CheckResults)
}
