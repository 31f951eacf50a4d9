package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	applogger "PriceCast/pkg/logger"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// CHSeedSource reads the latest feature rows from a ClickHouse table with
// one row per (instrument, asset, ts). Multi-asset rows get the one-hot
// asset columns appended in the configured asset order.
type CHSeedSource struct {
	db      *sql.DB
	table   string
	columns []string
	assets  []string
	l       *applogger.Logger
}

// NewCHSeedSource validates identifiers up front since they are spliced
// into the query text.
func NewCHSeedSource(db *sql.DB, table string, columns, assets []string) (*CHSeedSource, error) {
	for _, ident := range append([]string{table}, columns...) {
		if !identRe.MatchString(ident) {
			return nil, fmt.Errorf("clickhouse seed: invalid identifier %q", ident)
		}
	}
	return &CHSeedSource{db: db, table: table, columns: columns, assets: assets, l: applogger.Nop()}, nil
}

// SetLogger injects a structured logger.
func (s *CHSeedSource) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// LatestWindowQuery builds the query for the n most recent rows.
func LatestWindowQuery(table string, columns []string) string {
	const qtpl = `
        SELECT %s
        FROM %s
        WHERE instrument = ? AND asset = ?
        ORDER BY ts DESC
        LIMIT ?
    `
	return fmt.Sprintf(qtpl, strings.Join(columns, ", "), table)
}

func (s *CHSeedSource) LatestWindow(ctx context.Context, instrument, asset string, n int) (models.Matrix, error) {
	start := time.Now()
	var onehot []float64
	if len(s.assets) > 0 {
		idx := lo.IndexOf(s.assets, asset)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", models.ErrUnknownAsset, asset)
		}
		onehot = make([]float64, len(s.assets))
		onehot[idx] = 1
	}

	rows, err := s.db.QueryContext(ctx, LatestWindowQuery(s.table, s.columns), instrument, asset, n)
	if err != nil {
		s.l.Error("clickhouse latest_window query error",
			applogger.String("table", s.table),
			applogger.String("instrument", instrument),
			applogger.String("asset_id", asset),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("latest window: %w", err)
	}
	defer rows.Close()

	desc := make(models.Matrix, 0, n)
	for rows.Next() {
		vals := make([]float64, len(s.columns))
		ptrs := lo.Map(vals, func(_ float64, i int) interface{} { return &vals[i] })
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		desc = append(desc, append(vals, onehot...))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	out := make(models.Matrix, len(desc))
	for i, row := range desc {
		out[len(desc)-1-i] = row
	}
	s.l.Debug("clickhouse latest_window ok",
		applogger.String("instrument", instrument),
		applogger.String("asset_id", asset),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

var _ domrepo.SeedSource = (*CHSeedSource)(nil)
