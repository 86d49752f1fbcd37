package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/ch-go"
	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// DefaultBatchSize is the number of rows per native INSERT.
const DefaultBatchSize = 100_000

// CreateTableDDL returns the registry table definition. The sorting key is
// CommissioningYear so range queries read in year order.
func CreateTableDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	State String,
	AdministrativeRegion String,
	City String,
	GrossPower Float64,
	MainOrientation String,
	NetRatedPower Float64,
	FeedInType String,
	AssignedActivePowerInverter Float64,
	NumberOfModules Nullable(Int64),
	Location String,
	CommissioningYear Int32,
	Efficiency Float64
) ENGINE = MergeTree
ORDER BY (CommissioningYear, State)`, table)
}

// LoadStats summarises one Loader run.
type LoadStats struct {
	Inserted      int64
	SkippedNoYear int64
	Batches       int
}

// Loader batches records into native INSERTs.
type Loader struct {
	conn      doer
	table     string
	batchSize int

	batch *block
	stats LoadStats
}

// NewLoader returns a Loader writing to table ("db.table") through conn.
// conn is usually a *ch.Client from DialNative.
func NewLoader(conn doer, table string, batchSize int) (*Loader, error) {
	if err := ValidateIdent(table); err != nil {
		return nil, err
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Loader{conn: conn, table: table, batchSize: batchSize, batch: newBlock()}, nil
}

// Loader returns a Loader sharing the source's connection.
func (s *NativeSource) Loader(batchSize int) (*Loader, error) {
	return NewLoader(s.conn, s.table, batchSize)
}

// CreateTable creates the registry table if it does not exist.
func (l *Loader) CreateTable(ctx context.Context) error {
	if err := l.conn.Do(ctx, ch.Query{Body: CreateTableDDL(l.table)}); err != nil {
		return errors.Wrap(err, "create table")
	}
	return nil
}

// Truncate removes every row from the table.
func (l *Loader) Truncate(ctx context.Context) error {
	logging.Info().Str("table", l.table).Msg("truncating table")
	if err := l.conn.Do(ctx, ch.Query{Body: "TRUNCATE TABLE " + l.table}); err != nil {
		return errors.Wrap(err, "truncate table")
	}
	return nil
}

// Add buffers a chunk, flushing whenever the batch is full. Records without
// a commissioning year are skipped.
func (l *Loader) Add(ctx context.Context, chunk solar.Dataset) error {
	for i := range chunk {
		if !chunk[i].CommissioningYear.Valid {
			l.stats.SkippedNoYear++
			continue
		}
		l.batch.Append(&chunk[i])
		if l.batch.Len() >= l.batchSize {
			if err := l.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Chunk adapts Add to a solar.ChunkFunc bound to ctx.
func (l *Loader) Chunk(ctx context.Context) solar.ChunkFunc {
	return func(chunk solar.Dataset) error {
		return l.Add(ctx, chunk)
	}
}

// Flush sends the buffered batch.
func (l *Loader) Flush(ctx context.Context) error {
	n := l.batch.Len()
	if n == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES", l.table, strings.Join(solar.Columns, ", "))
	if err := l.conn.Do(ctx, ch.Query{Body: query, Input: l.batch.Input()}); err != nil {
		return errors.Wrapf(err, "insert %d rows", n)
	}
	l.batch.Reset()
	l.stats.Inserted += int64(n)
	l.stats.Batches++
	logging.Debug().Int("rows", n).Int("batch", l.stats.Batches).Msg("batch inserted")
	return nil
}

// Stats returns the counters accumulated so far.
func (l *Loader) Stats() LoadStats {
	return l.stats
}
