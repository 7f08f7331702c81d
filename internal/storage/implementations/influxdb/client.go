package influxdb

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dart/internal/storage/interfaces"
	"github.com/inferloop/dart/internal/suppression"
	"github.com/inferloop/dart/pkg/errors"
)

// Measurement is the InfluxDB measurement run statistics are written to.
const Measurement = "dart_run"

// InfluxDBConfig contains configuration for the run statistics sink
type InfluxDBConfig struct {
	URL          string        `json:"url" mapstructure:"url"`
	Token        string        `json:"token" mapstructure:"token"`
	Organization string        `json:"organization" mapstructure:"organization"`
	Bucket       string        `json:"bucket" mapstructure:"bucket"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	UseGZip      bool          `json:"use_gzip" mapstructure:"use_gzip"`
}

// InfluxDBStorage writes one point per frequency column of every run
type InfluxDBStorage struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	writeAPI  api.WriteAPIBlocking
	logger    *logrus.Logger
	connected bool
}

// NewInfluxDBStorage creates a new InfluxDB storage instance
func NewInfluxDBStorage(config *InfluxDBConfig, logger *logrus.Logger) (*InfluxDBStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB config cannot be nil")
	}

	if config.URL == "" || config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB url and bucket are required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &InfluxDBStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes connection to InfluxDB
func (s *InfluxDBStorage) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetUseGZip(s.config.UseGZip)
	options.SetPrecision(time.Millisecond)
	options.SetHTTPRequestTimeout(uint(s.config.Timeout.Seconds()))

	client := influxdb2.NewClientWithOptions(s.config.URL, s.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to InfluxDB")
	}
	if !ok {
		client.Close()
		return errors.NewStorageError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}

	s.client = client
	s.writeAPI = client.WriteAPIBlocking(s.config.Organization, s.config.Bucket)
	s.connected = true

	s.logger.WithFields(logrus.Fields{
		"url":          s.config.URL,
		"organization": s.config.Organization,
		"bucket":       s.config.Bucket,
	}).Info("Connected to InfluxDB")

	return nil
}

// Close closes the connection to InfluxDB
func (s *InfluxDBStorage) Close() error {
	if !s.connected {
		return nil
	}

	s.client.Close()
	s.connected = false
	s.logger.Info("Disconnected from InfluxDB")

	return nil
}

// Ping checks that the server answers
func (s *InfluxDBStorage) Ping(ctx context.Context) error {
	if !s.connected {
		return errors.NewStorageError(errors.CodeConnectionFailed, "Not connected to InfluxDB")
	}
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "InfluxDB ping failed")
	}
	if !ok {
		return errors.NewStorageError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}
	return nil
}

// WriteRun writes the statistics of run
func (s *InfluxDBStorage) WriteRun(ctx context.Context, run *interfaces.RunRecord) error {
	if !s.connected {
		return errors.NewStorageError(errors.CodeConnectionFailed, "Not connected to InfluxDB")
	}

	points := RunPoints(run)
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write run statistics")
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"points": len(points),
	}).Debug("Wrote run statistics")
	return nil
}

// RunPoints converts a run into one point per frequency column.
func RunPoints(run *interfaces.RunRecord) []*write.Point {
	if run == nil || run.Stats == nil {
		return nil
	}

	points := make([]*write.Point, 0, len(run.Stats.Columns))
	for _, column := range run.Stats.Columns {
		p := influxdb2.NewPointWithMeasurement(Measurement).
			AddTag("source", run.Source).
			AddTag("frequency_column", column.FrequencyColumn).
			AddTag("cached", strconv.FormatBool(run.Cached)).
			AddField("run_id", run.ID).
			AddField("records", column.Records).
			AddField("cells", column.Cells).
			AddField("groupings", column.Groupings).
			AddField("dropped_rows", column.DroppedRows).
			AddField("suppressed", column.SuppressedRecords()).
			AddField("primary", column.Categories[suppression.PrimarySuppression]).
			AddField("secondary", column.Categories[suppression.SecondarySuppression]).
			AddField("user_requested", column.Categories[suppression.UserRequested]).
			AddField("duration_ms", run.Stats.Duration.Milliseconds()).
			SetTime(run.CreatedAt)

		if run.Profile != "" {
			p.AddTag("profile", run.Profile)
		}
		if run.Config != nil {
			p.AddField("threshold", run.Config.MinimumThreshold)
		}
		if column.Pipeline != nil {
			p.AddField("iterations", column.Pipeline.Iterations)
		}
		points = append(points, p)
	}
	return points
}
