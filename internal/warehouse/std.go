package warehouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// StdSource reads the registry table with clickhouse-go row scanning.
type StdSource struct {
	conn  driver.Conn
	table string
}

// OpenStd connects with clickhouse-go and pings the server.
func OpenStd(ctx context.Context, opts Options) (*StdSource, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 300,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, errors.Wrap(err, "clickhouse open")
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "clickhouse ping %s", opts.Addr)
	}
	return &StdSource{conn: conn, table: opts.TableFQN()}, nil
}

// Close closes the connection pool.
func (s *StdSource) Close() error {
	return s.conn.Close()
}

// QueryRange implements Querier.
func (s *StdSource) QueryRange(ctx context.Context, minYear, maxYear, chunkSize int, fn solar.ChunkFunc) error {
	if chunkSize < 1 {
		chunkSize = 1
	}
	query := BuildRangeQuery(s.table, minYear, maxYear)
	logging.Debug().Str("query", query).Int("chunk_size", chunkSize).Msg("std range query")

	qctx := clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"max_block_size": chunkSize,
	}))
	rows, err := s.conn.Query(qctx, query)
	if err != nil {
		return errors.Wrap(err, "range query")
	}
	defer rows.Close()

	return scanRows(ctx, rows, solar.NewRechunker(chunkSize, fn))
}

// rowScanner is the subset of driver.Rows used by scanRows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRows(ctx context.Context, rows rowScanner, rc *solar.Rechunker) error {
	var (
		state, region, city, orientation, feedIn, location string
		gross, net, inverter, efficiency                   float64
		modules                                            *int64
		year                                               int32
	)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		modules = nil
		if err := rows.Scan(
			&state, &region, &city, &gross, &orientation, &net,
			&feedIn, &inverter, &modules, &location, &year, &efficiency,
		); err != nil {
			return errors.Wrap(err, "scan row")
		}

		rec := solar.Record{
			State:                       state,
			AdministrativeRegion:        region,
			City:                        city,
			GrossPower:                  solar.Float(gross),
			MainOrientation:             orientation,
			NetRatedPower:               solar.Float(net),
			FeedInType:                  feedIn,
			AssignedActivePowerInverter: solar.Float(inverter),
			NumberOfModules:             solar.MissingInt,
			Location:                    location,
			CommissioningYear:           solar.Int(int64(year)),
			Efficiency:                  solar.Float(efficiency),
		}
		if modules != nil {
			rec.NumberOfModules = solar.Int(*modules)
		}
		if err := rc.Add(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate rows")
	}
	return rc.Flush()
}
