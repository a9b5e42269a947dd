// Package influx writes usage records to InfluxDB.
package influx

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/usage"
)

// Sink writes records through the blocking write API, one request per batch.
// InfluxDB 1.8 servers work with token "user:password" and bucket "db/rp".
type Sink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	bucket string
	logger zerolog.Logger
}

// New creates an InfluxDB sink
func New(cfg config.InfluxDBConfig, logger zerolog.Logger) *Sink {
	timeout := config.ParseDuration(cfg.Timeout, 10*time.Second)
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(timeout / time.Second)).
		SetPrecision(time.Second)

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Sink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "influxdb").Logger(),
	}
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "influxdb" }

// Publish writes records as one batch.
func (s *Sink) Publish(ctx context.Context, records []usage.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	points := lo.Map(records, func(r usage.Record, _ int) *write.Point {
		return influxdb2.NewPoint(r.Measurement, r.Tags, r.Fields, r.Time)
	})

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return 0, errs.Wrap(errs.KindNetwork, "influx.write", "write to bucket "+s.bucket, err)
	}

	s.logger.Info().Int("points", len(points)).Str("bucket", s.bucket).Msg("Server updated successfully")
	return len(points), nil
}

// Ping checks that the server is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "influx.ping", "ping", err)
	}
	if !ok {
		return errs.New(errs.KindNetwork, "influx.ping", "server not ready")
	}
	return nil
}

// Close releases the client
func (s *Sink) Close() {
	s.client.Close()
}
