// Package clickhouse stores segmentation runs in ClickHouse for later
// analysis across runs.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"retail-segments/internal/config"
	"retail-segments/internal/models"
)

// Schema is applied by EnsureSchema, one statement per entry.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS segment_runs (
		run_id        UUID,
		source        String,
		method        LowCardinality(String),
		clusters      UInt16,
		products      UInt32,
		rows_read     UInt64,
		rows_dropped  UInt64,
		rows_rejected UInt64,
		started_at    DateTime64(3),
		finished_at   DateTime64(3)
	) ENGINE = MergeTree ORDER BY (started_at, run_id)`,
	`CREATE TABLE IF NOT EXISTS segment_products (
		run_id            UUID,
		stock_code        String,
		description       String,
		total_quantity    Int64,
		avg_unit_price    Decimal(18, 6),
		transaction_count UInt32,
		total_revenue     Decimal(18, 4),
		cluster           UInt16
	) ENGINE = MergeTree ORDER BY (run_id, cluster, stock_code)`,
	`CREATE TABLE IF NOT EXISTS segment_summaries (
		run_id            UUID,
		cluster           UInt16,
		size              UInt32,
		mean_quantity     Float64,
		mean_unit_price   Float64,
		mean_transactions Float64,
		mean_revenue      Float64
	) ENGINE = MergeTree ORDER BY (run_id, cluster)`,
}

// Store writes runs through a native ClickHouse connection.
type Store struct {
	conn clickhouse.Conn
	cfg  config.ClickHouseConfig
}

// NewStore opens a connection. The database named in cfg must exist.
func NewStore(cfg config.ClickHouseConfig) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	return &Store{conn: conn, cfg: cfg}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the run tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run header, every product assignment and the cluster
// summaries.
func (s *Store) SaveRun(ctx context.Context, seg *models.Segmentation) error {
	if err := s.conn.Exec(ctx, `
		INSERT INTO segment_runs (
			run_id, source, method, clusters, products,
			rows_read, rows_dropped, rows_rejected, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runRow(seg)...,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO segment_products (
			run_id, stock_code, description, total_quantity, avg_unit_price,
			transaction_count, total_revenue, cluster
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare product batch: %w", err)
	}
	assignments := seg.Assignments()
	rows := make([][]any, len(assignments))
	for i, a := range assignments {
		rows[i] = productRow(seg, a)
	}
	if err := sendBatch(batch, rows, func(i int) string { return "product " + assignments[i].StockCode }); err != nil {
		return err
	}

	batch, err = s.conn.PrepareBatch(ctx, `
		INSERT INTO segment_summaries (
			run_id, cluster, size, mean_quantity, mean_unit_price,
			mean_transactions, mean_revenue
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare summary batch: %w", err)
	}
	rows = make([][]any, len(seg.Summaries))
	for i, sum := range seg.Summaries {
		rows[i] = summaryRow(seg, sum)
	}
	return sendBatch(batch, rows, func(i int) string { return fmt.Sprintf("summary %d", seg.Summaries[i].Cluster) })
}

// rowBatch is the part of driver.Batch that sendBatch uses.
type rowBatch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// sendBatch appends rows and sends them. A failed append aborts the batch so
// its connection goes back to the pool.
func sendBatch(batch rowBatch, rows [][]any, name func(i int) string) error {
	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			if abortErr := batch.Abort(); abortErr != nil {
				return fmt.Errorf("failed to append %s: %w (abort: %v)", name(i), err, abortErr)
			}
			return fmt.Errorf("failed to append %s: %w", name(i), err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// RunCount returns how many runs have been stored for source.
func (s *Store) RunCount(ctx context.Context, source string) (uint64, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM segment_runs WHERE source = ?`, source)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}

// Column values below must match the ClickHouse types exactly; the driver
// does not widen or narrow integers.

func runRow(seg *models.Segmentation) []any {
	return []any{
		seg.RunID,
		seg.Source,
		seg.Method,
		uint16(seg.Clusters),
		uint32(len(seg.Products)),
		uint64(seg.Stats.RowsRead),
		uint64(seg.Stats.RowsDropped),
		uint64(seg.Stats.RowsRejected),
		seg.StartedAt,
		seg.FinishedAt,
	}
}

func productRow(seg *models.Segmentation, a models.ProductAssignment) []any {
	return []any{
		seg.RunID,
		a.StockCode,
		a.Description,
		a.TotalQuantitySold,
		a.AvgUnitPrice.Round(6),
		uint32(a.TransactionCount),
		a.TotalRevenue.Round(4),
		uint16(a.Cluster),
	}
}

func summaryRow(seg *models.Segmentation, s models.ClusterSummary) []any {
	return []any{
		seg.RunID,
		uint16(s.Cluster),
		uint32(s.Size),
		s.MeanQuantitySold,
		s.MeanAvgUnitPrice,
		s.MeanTransactionCount,
		s.MeanRevenue,
	}
}
