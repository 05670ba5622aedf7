package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fixturefeed/internal/metrics"
	"fixturefeed/logger"
	"fixturefeed/models"
	"fixturefeed/reader"
)

// Source yields the raw feed bytes for one refresh window.
type Source interface {
	Fetch(ctx context.Context, token int64) ([]byte, error)
}

// Error kinds reported to callers and used as metric labels.
const (
	KindTransport = "transport"
	KindParse     = "parse"
	KindSchema    = "schema"
	KindInternal  = "internal"
)

// Pipeline runs fetch, parse, validate and normalize in sequence.
type Pipeline struct {
	source Source
	schema models.Schema
	log    *logger.Log
}

func NewPipeline(source Source, schema models.Schema) *Pipeline {
	return &Pipeline{
		source: source,
		schema: schema,
		log:    logger.GetLogger(),
	}
}

// Run produces a fresh table for token. Transport, parse and schema errors
// abort the run and no table is returned.
func (p *Pipeline) Run(ctx context.Context, token int64) (*models.NormalizedTable, error) {
	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{"token": token})

	start := time.Now()
	data, err := p.source.Fetch(ctx, token)
	if err != nil {
		return nil, p.fail(log, fmt.Errorf("fetch feed: %w", err))
	}
	fetchMs := time.Since(start).Milliseconds()
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricFetchDuration, fetchMs, "gauge", logger.Fields{"unit": "milliseconds"})
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricFetchBytes, len(data), "gauge", logger.Fields{"unit": "bytes"})

	frame, err := Parse(data)
	if err != nil {
		return nil, p.fail(log, fmt.Errorf("parse feed: %w", err))
	}

	if err := ValidateColumns(frame.Columns, p.schema); err != nil {
		return nil, p.fail(log, err)
	}

	table := Normalize(frame, p.schema)
	for _, issue := range table.Issues {
		log.WithFields(logger.Fields{
			"line":   issue.Line,
			"column": issue.Column,
			"value":  issue.Value,
			"reason": issue.Reason,
		}).Debug("cell coerced to null")
	}

	logger.RecordRowCount(table.Len())
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricRows, table.Len(), "gauge", nil)
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricSkippedLines, table.Skipped, "gauge", nil)
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricDroppedRows, table.Dropped, "gauge", nil)
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricIssues, len(table.Issues), "gauge", nil)
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricRefresh, 1, "counter", logger.Fields{"outcome": "success"})

	logger.LogRowFlow(log, "feed", table.Len(), table.Skipped, table.Dropped)
	log.WithFields(logger.Fields{
		"rows":     table.Len(),
		"skipped":  table.Skipped,
		"dropped":  table.Dropped,
		"issues":   len(table.Issues),
		"duration": time.Since(start).String(),
	}).Info("feed refreshed")

	return table, nil
}

func (p *Pipeline) fail(log *logger.Entry, err error) error {
	kind := ErrorKind(err)
	logger.IncrementRefreshFailure()
	metrics.EmitMetric(p.log, "pipeline", metrics.MetricRefresh, 1, "counter", logger.Fields{"outcome": kind + "_error"})
	log.WithError(err).WithFields(logger.Fields{"kind": kind}).Warn("feed refresh failed")
	return err
}

// ErrorKind classifies a pipeline failure for display and metrics.
func ErrorKind(err error) string {
	var te *reader.TransportError
	var mce *MissingColumnsError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &mce):
		return KindSchema
	case errors.Is(err, ErrEmptyFeed), errors.Is(err, ErrMalformedHeader):
		return KindParse
	default:
		return KindInternal
	}
}
