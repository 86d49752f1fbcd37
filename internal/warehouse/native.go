package warehouse

import (
	"context"
	"strconv"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// doer is the subset of *ch.Client used here.
type doer interface {
	Do(ctx context.Context, q ch.Query) error
}

// NativeSource reads the registry table over the ClickHouse native protocol.
type NativeSource struct {
	conn  doer
	close func() error
	table string
}

// DialNative connects with ch-go.
func DialNative(ctx context.Context, opts Options) (*NativeSource, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     opts.Addr,
		Database:    opts.Database,
		User:        opts.User,
		Password:    opts.Password,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "clickhouse dial %s", opts.Addr)
	}
	return &NativeSource{conn: conn, close: conn.Close, table: opts.TableFQN()}, nil
}

// Close closes the connection.
func (s *NativeSource) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// QueryRange implements Querier. Blocks arrive at roughly chunkSize rows
// (max_block_size) and are rechunked to exactly chunkSize.
func (s *NativeSource) QueryRange(ctx context.Context, minYear, maxYear, chunkSize int, fn solar.ChunkFunc) error {
	if chunkSize < 1 {
		chunkSize = 1
	}
	query := BuildRangeQuery(s.table, minYear, maxYear)
	logging.Debug().Str("query", query).Int("chunk_size", chunkSize).Msg("native range query")

	rc := solar.NewRechunker(chunkSize, fn)
	b := newBlock()

	err := s.conn.Do(ctx, ch.Query{
		Body: query,
		Settings: []ch.Setting{
			{Key: "max_block_size", Value: strconv.Itoa(chunkSize)},
		},
		Result: b.Results(),
		OnResult: func(ctx context.Context, _ proto.Block) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			recs := b.Records()
			b.Reset()
			return rc.Add(recs...)
		},
	})
	if err != nil {
		return errors.Wrap(err, "range query")
	}
	return rc.Flush()
}
