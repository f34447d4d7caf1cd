package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/andrej220/stepagent/pkg/models"
	"github.com/andrej220/stepagent/pkg/persistence"
)

// ReportSink receives the report of every finished execution.
type ReportSink interface {
	Save(ctx context.Context, report models.JobReport) error
}

type SinkFunc func(context.Context, models.JobReport) error

func (f SinkFunc) Save(ctx context.Context, report models.JobReport) error { return f(ctx, report) }

// FileSink writes each report to <Dir>/<execution id>.json.
type FileSink struct {
	Dir string
}

func (f FileSink) Path(report models.JobReport) string {
	return filepath.Join(f.Dir, report.ExecutionUID.String()+".json")
}

func (f FileSink) Save(_ context.Context, report models.JobReport) error {
	if err := persistence.WriteJSON(report, f.Path(report)); err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	return nil
}

// MongoSink upserts each report keyed by "report_<execution id>".
type MongoSink struct {
	Store *persistence.MongoStore
}

func (m MongoSink) Save(ctx context.Context, report models.JobReport) error {
	err := m.Store.Save(ctx, report.ExecutionUID.String(), report, persistence.SaveOptions{Overwrite: true, Prefix: "report"})
	if err != nil {
		return fmt.Errorf("mongo sink: %w", err)
	}
	return nil
}
