package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all plantrack metrics instruments.
type Metrics struct {
	ToolCallDuration  metric.Float64Histogram
	ToolCallErrors    metric.Int64Counter
	MigrationDuration metric.Float64Histogram
	MigrationsTotal   metric.Int64Counter
	MigrationAborts   metric.Int64Counter
	BackupsTotal      metric.Int64Counter
	BackupsPruned     metric.Int64Counter
	StoreQueries      metric.Int64Counter
	CheckpointsTotal  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ToolCallDuration, err = meter.Float64Histogram("plantrack.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCallErrors, err = meter.Int64Counter("plantrack.tool.errors",
		metric.WithDescription("Tool call error count"),
	)
	if err != nil {
		return nil, err
	}

	m.MigrationDuration, err = meter.Float64Histogram("plantrack.migrate.duration",
		metric.WithDescription("Schema migration attempt duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MigrationsTotal, err = meter.Int64Counter("plantrack.migrate.committed",
		metric.WithDescription("Committed schema migration attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.MigrationAborts, err = meter.Int64Counter("plantrack.migrate.aborted",
		metric.WithDescription("Aborted schema migration attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.BackupsTotal, err = meter.Int64Counter("plantrack.backup.created",
		metric.WithDescription("Verified backups created"),
	)
	if err != nil {
		return nil, err
	}

	m.BackupsPruned, err = meter.Int64Counter("plantrack.backup.pruned",
		metric.WithDescription("Expired backups removed"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreQueries, err = meter.Int64Counter("plantrack.store.queries",
		metric.WithDescription("Store operations executed"),
	)
	if err != nil {
		return nil, err
	}

	m.CheckpointsTotal, err = meter.Int64Counter("plantrack.vcs.checkpoints",
		metric.WithDescription("Git checkpoints created"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
