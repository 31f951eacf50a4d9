package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	applogger "PriceCast/pkg/logger"
)

// ForecastRunsDDL creates the forecast history table.
func ForecastRunsDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id String,
    instrument LowCardinality(String),
    asset_id String,
    horizon UInt32,
    initial_price Float64,
    final_price Float64,
    return_pct Float64,
    meets_target UInt8,
    close_series Array(Float64),
    generated_at DateTime64(3)
) ENGINE = MergeTree ORDER BY (instrument, generated_at)`, table)
}

// CHForecastStore writes and reads forecast runs in ClickHouse.
type CHForecastStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHForecastStore(db *sql.DB, table string) *CHForecastStore {
	return &CHForecastStore{db: db, table: table, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHForecastStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHForecastStore) Record(ctx context.Context, ev *models.ForecastEvent) error {
	q := fmt.Sprintf("INSERT INTO %s (run_id, instrument, asset_id, horizon, initial_price, final_price, return_pct, meets_target, close_series, generated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	meets := uint8(0)
	if ev.MeetsTarget {
		meets = 1
	}
	_, err := s.db.ExecContext(ctx, q,
		ev.RunID,
		ev.Instrument,
		ev.AssetID,
		uint32(ev.Horizon),
		ev.InitialPrice,
		ev.FinalPrice,
		ev.ReturnPct,
		meets,
		ev.CloseSeries,
		ev.GeneratedAt,
	)
	if err != nil {
		s.l.Error("clickhouse forecast insert error",
			applogger.String("table", s.table),
			applogger.String("run_id", ev.RunID),
			applogger.Error(err),
		)
		return fmt.Errorf("insert forecast run: %w", err)
	}
	return nil
}

// RecentQuery builds the history query; an empty instrument matches all.
func RecentQuery(table, instrument string) string {
	where := ""
	if instrument != "" {
		where = "WHERE instrument = ?"
	}
	const qtpl = `
        SELECT run_id, instrument, asset_id, horizon, initial_price, final_price, return_pct, meets_target, close_series, generated_at
        FROM %s
        %s
        ORDER BY generated_at DESC
        LIMIT ?
    `
	return fmt.Sprintf(qtpl, table, where)
}

func (s *CHForecastStore) Recent(ctx context.Context, instrument string, limit int) ([]models.ForecastEvent, error) {
	start := time.Now()
	args := make([]interface{}, 0, 2)
	if instrument != "" {
		args = append(args, instrument)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, RecentQuery(s.table, instrument), args...)
	if err != nil {
		return nil, fmt.Errorf("recent forecasts: %w", err)
	}
	defer rows.Close()

	out := make([]models.ForecastEvent, 0, limit)
	for rows.Next() {
		var (
			ev      models.ForecastEvent
			horizon uint32
			meets   uint8
		)
		if err := rows.Scan(&ev.RunID, &ev.Instrument, &ev.AssetID, &horizon, &ev.InitialPrice,
			&ev.FinalPrice, &ev.ReturnPct, &meets, &ev.CloseSeries, &ev.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan forecast run: %w", err)
		}
		ev.Horizon = int(horizon)
		ev.MeetsTarget = meets == 1
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse recent forecasts ok",
		applogger.String("instrument", instrument),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHForecastStore) Health(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close is a no-op; the pool belongs to the ClickHouse client.
func (s *CHForecastStore) Close() error { return nil }

var _ domrepo.ForecastStore = (*CHForecastStore)(nil)
