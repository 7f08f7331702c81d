package influxdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/internal/suppression"
)

func TestNewInfluxDBStorage(t *testing.T) {
	storage, err := NewInfluxDBStorage(&InfluxDBConfig{URL: "http://localhost:8086", Bucket: "dart"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, storage.config.Timeout)

	_, err = NewInfluxDBStorage(nil, nil)
	assert.Error(t, err)

	_, err = NewInfluxDBStorage(&InfluxDBConfig{URL: "http://localhost:8086"}, nil)
	assert.Error(t, err)
}

func TestRunPoints(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &interfaces.RunRecord{
		ID:        "run-1",
		Source:    "cli",
		Profile:   "default",
		Config:    &suppression.Config{MinimumThreshold: 10},
		CreatedAt: created,
		Stats: &suppression.Stats{
			Duration: 1500 * time.Millisecond,
			Columns: []*suppression.ColumnStats{
				{
					FrequencyColumn: "Counts",
					Records:         25,
					Categories: map[suppression.Redaction]int{
						suppression.PrimarySuppression:   4,
						suppression.SecondarySuppression: 7,
					},
					Pipeline: &suppression.PipelineStats{Iterations: 1},
				},
				{FrequencyColumn: "Enrolled", Records: 25},
			},
		},
	}

	points := RunPoints(run)
	require.Len(t, points, 2)

	p := points[0]
	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, created, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{
		"source":           "cli",
		"frequency_column": "Counts",
		"cached":           "false",
		"profile":          "default",
	}, tags)

	fields := map[string]interface{}{}
	for _, field := range p.FieldList() {
		fields[field.Key] = field.Value
	}
	assert.EqualValues(t, 11, fields["suppressed"])
	assert.EqualValues(t, 4, fields["primary"])
	assert.EqualValues(t, 1500, fields["duration_ms"])
	assert.EqualValues(t, 10, fields["threshold"])
	assert.Equal(t, "run-1", fields["run_id"])

	assert.Nil(t, RunPoints(nil))
	assert.Nil(t, RunPoints(&interfaces.RunRecord{}))
}

func TestWriteRunNotConnected(t *testing.T) {
	storage, err := NewInfluxDBStorage(&InfluxDBConfig{URL: "http://localhost:8086", Bucket: "dart"}, nil)
	require.NoError(t, err)
	assert.Error(t, storage.WriteRun(context.Background(), &interfaces.RunRecord{}))
	assert.NoError(t, storage.Close())
}
