package market

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// intervalMinutes maps the supported resample intervals to their bucket width.
// The empty interval replays raw rows without bucketing.
var intervalMinutes = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"4h":  240,
	"1d":  1440,
}

// HistoricalSource replays candles from a CSV or Parquet file through an
// in-memory DuckDB instance, ordered by time across all symbols.
type HistoricalSource struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewHistoricalSource opens an in-memory DuckDB and exposes the file at path
// as the market_data view. The file format is picked by extension: .parquet
// uses the Parquet reader, everything else the CSV reader.
func NewHistoricalSource(path string, log *logger.Logger) (*HistoricalSource, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	reader := "read_csv_auto"
	if strings.HasSuffix(path, ".parquet") {
		reader = "read_parquet"
	}

	query := fmt.Sprintf(`CREATE VIEW market_data AS SELECT * FROM %s('%s')`, reader, path)
	if _, err := db.Exec(query); err != nil {
		db.Close()

		return nil, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to load market data from %s", path)
	}

	log.Debug("historical source initialized", zap.String("path", path))

	return &HistoricalSource{db: db, logger: log}, nil
}

// Close releases the underlying database.
func (s *HistoricalSource) Close() error {
	return s.db.Close()
}

// Count returns the number of ticks the raw view holds for the symbols.
// Progress reporting uses this before a replay starts.
func (s *HistoricalSource) Count(symbols []string) (int, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("market_data").
		Where(sq.Eq{"symbol": symbols}).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count market data", err)
	}

	return count, nil
}

// Stream implements Source. With a non-empty interval the candles are
// resampled into buckets of that width before replay.
func (s *HistoricalSource) Stream(ctx context.Context, symbols []string, interval string) iter.Seq2[types.MarketData, error] {
	return func(yield func(types.MarketData, error) bool) {
		query, args, err := s.buildQuery(symbols, interval)
		if err != nil {
			yield(types.MarketData{}, err)

			return
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query market data", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			var data types.MarketData

			err := rows.Scan(&data.Time, &data.Symbol, &data.Open, &data.High, &data.Low, &data.Close, &data.Volume)
			if err != nil {
				yield(types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan row", err))

				return
			}

			if !yield(data, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.MarketData{}, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating rows", err))
		}
	}
}

func (s *HistoricalSource) buildQuery(symbols []string, interval string) (string, []any, error) {
	if interval == "" || interval == "raw" {
		return sq.Select("time", "symbol", "open", "high", "low", "close", "volume").
			From("market_data").
			Where(sq.Eq{"symbol": symbols}).
			OrderBy("time ASC").
			PlaceholderFormat(sq.Question).
			ToSql()
	}

	minutes, ok := intervalMinutes[interval]
	if !ok {
		return "", nil, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported interval: %s", interval)
	}

	// Resample with window functions: first open, max high, min low, last
	// close, summed volume per bucket and symbol.
	query := fmt.Sprintf(`
		WITH buckets AS MATERIALIZED (
			SELECT
				time_bucket(INTERVAL '%d minutes', time) AS bucket_time,
				symbol,
				FIRST_VALUE(open) OVER w AS open,
				MAX(high) OVER w AS high,
				MIN(low) OVER w AS low,
				LAST_VALUE(close) OVER (PARTITION BY time_bucket(INTERVAL '%d minutes', time), symbol ORDER BY time ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING) AS close,
				SUM(volume) OVER w AS volume
			FROM market_data
			WHERE symbol IN (%s)
			WINDOW w AS (PARTITION BY time_bucket(INTERVAL '%d minutes', time), symbol ORDER BY time ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING)
		)
		SELECT DISTINCT bucket_time AS time, symbol, open, high, low, close, volume
		FROM buckets
		ORDER BY bucket_time ASC
	`, minutes, minutes, placeholders(len(symbols)), minutes)

	args := make([]any, len(symbols))
	for i, symbol := range symbols {
		args[i] = symbol
	}

	return query, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ Source = (*HistoricalSource)(nil)
