package warehouse

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

func registryRows(n int) solar.Dataset {
	ds := make(solar.Dataset, n)
	for i := range ds {
		ds[i] = solar.Record{
			State:             "Saxony",
			City:              "Leipzig",
			GrossPower:        solar.Float(float64(i)),
			NetRatedPower:     solar.Float(0.5),
			NumberOfModules:   solar.Int(int64(10 + i)),
			CommissioningYear: solar.Int(int64(2010 + i)),
			Efficiency:        solar.Missing,
		}
	}
	ds[1].NumberOfModules = solar.MissingInt
	ds[2].AssignedActivePowerInverter = solar.Float(4.2)
	return ds
}

// blockOver views result columns as a block so the fake server can fill them.
func blockOver(res proto.Results) *block {
	return &block{
		State:                       res[0].Data.(*proto.ColStr),
		AdministrativeRegion:        res[1].Data.(*proto.ColStr),
		City:                        res[2].Data.(*proto.ColStr),
		GrossPower:                  res[3].Data.(*proto.ColFloat64),
		MainOrientation:             res[4].Data.(*proto.ColStr),
		NetRatedPower:               res[5].Data.(*proto.ColFloat64),
		FeedInType:                  res[6].Data.(*proto.ColStr),
		AssignedActivePowerInverter: res[7].Data.(*proto.ColFloat64),
		NumberOfModules:             res[8].Data.(*proto.ColNullable[int64]),
		Location:                    res[9].Data.(*proto.ColStr),
		CommissioningYear:           res[10].Data.(*proto.ColInt32),
		Efficiency:                  res[11].Data.(*proto.ColFloat64),
	}
}

// fakeServer answers SELECTs with rows split into uneven blocks and counts
// INSERT rows.
type fakeServer struct {
	rows   solar.Dataset
	pages  []int
	err    error
	bodies []string
	sets   []ch.Setting

	inserted []int
}

func (f *fakeServer) Do(ctx context.Context, q ch.Query) error {
	f.bodies = append(f.bodies, q.Body)
	f.sets = append(f.sets, q.Settings...)
	if f.err != nil {
		return f.err
	}

	if q.Input != nil {
		f.inserted = append(f.inserted, q.Input[0].Data.Rows())
		return nil
	}
	if q.Result == nil {
		return nil
	}

	res := q.Result.(proto.Results)
	blk := blockOver(res)
	rest := f.rows
	for _, n := range f.pages {
		if len(rest) == 0 {
			break
		}
		n = min(n, len(rest))
		for i := range rest[:n] {
			blk.Append(&rest[i])
		}
		rest = rest[n:]
		if err := q.OnResult(ctx, proto.Block{}); err != nil {
			return err
		}
	}
	return nil
}

func TestBuildRangeQuery(t *testing.T) {
	q := BuildRangeQuery("solar.registry", 2000, 2010)
	assert.True(t, strings.HasPrefix(q, "SELECT State, AdministrativeRegion, City, GrossPower,"))
	assert.Contains(t, q, "Efficiency FROM solar.registry")
	assert.True(t, strings.HasSuffix(q, "WHERE CommissioningYear BETWEEN 2000 AND 2010 ORDER BY CommissioningYear"))
}

func TestValidateIdent(t *testing.T) {
	assert.NoError(t, ValidateIdent("registry"))
	assert.NoError(t, ValidateIdent("solar.registry_v2"))
	assert.Error(t, ValidateIdent("solar.registry; DROP TABLE x"))
	assert.Error(t, ValidateIdent("a.b.c"))
	assert.Error(t, ValidateIdent(""))
}

func TestBlockRoundTrip(t *testing.T) {
	ds := registryRows(4)
	b := newBlock()
	for i := range ds {
		b.Append(&ds[i])
	}
	require.Equal(t, 4, b.Len())
	assert.Equal(t, ds, b.Records())

	b.Reset()
	assert.Zero(t, b.Len())
}

func TestNativeQueryRangeRechunks(t *testing.T) {
	srv := &fakeServer{rows: registryRows(8), pages: []int{3, 1, 4}}
	src := &NativeSource{conn: srv, table: "solar.registry"}

	var chunks []solar.Dataset
	err := src.QueryRange(context.Background(), 2010, 2020, 2, func(c solar.Dataset) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 4)
	var joined solar.Dataset
	for _, c := range chunks {
		assert.Len(t, c, 2)
		joined = append(joined, c...)
	}
	assert.Equal(t, srv.rows, joined)

	require.Len(t, srv.bodies, 1)
	assert.Equal(t, BuildRangeQuery("solar.registry", 2010, 2020), srv.bodies[0])
	assert.Contains(t, srv.sets, ch.Setting{Key: "max_block_size", Value: "2"})
}

func TestNativeQueryRangeErrors(t *testing.T) {
	boom := errors.New("connection reset")
	src := &NativeSource{conn: &fakeServer{err: boom}, table: "solar.registry"}
	err := src.QueryRange(context.Background(), 2010, 2020, 2, func(solar.Dataset) error { return nil })
	assert.ErrorIs(t, err, boom)

	stop := errors.New("stop")
	src = &NativeSource{conn: &fakeServer{rows: registryRows(4), pages: []int{4}}, table: "solar.registry"}
	err = src.QueryRange(context.Background(), 2010, 2020, 2, func(solar.Dataset) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestLoaderBatches(t *testing.T) {
	srv := &fakeServer{}
	l, err := NewLoader(srv, "solar.registry", 2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.CreateTable(ctx))

	ds := registryRows(5)
	ds[3].CommissioningYear = solar.MissingInt
	require.NoError(t, l.Chunk(ctx)(ds))
	require.NoError(t, l.Flush(ctx))

	assert.Equal(t, []int{2, 2}, srv.inserted)
	stats := l.Stats()
	assert.Equal(t, int64(4), stats.Inserted)
	assert.Equal(t, int64(1), stats.SkippedNoYear)
	assert.Equal(t, 2, stats.Batches)

	assert.Contains(t, srv.bodies[0], "CREATE TABLE IF NOT EXISTS solar.registry")
	assert.Contains(t, srv.bodies[1], "INSERT INTO solar.registry (State, AdministrativeRegion")
}

func TestNewLoaderRejectsBadTable(t *testing.T) {
	_, err := NewLoader(&fakeServer{}, "registry`", 10)
	assert.Error(t, err)
}

type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.pos-1]
	for i, v := range row {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func (f *fakeRows) Err() error { return f.err }

func TestScanRows(t *testing.T) {
	modules := int64(24)
	nan := solar.Missing.Float64()
	rows := &fakeRows{rows: [][]any{
		{"Bavaria", "Swabia", "Augsburg", 0.01, "South", 0.008, "Full", 8.0, &modules, "Building", int32(2019), nan},
		{"Bavaria", "Swabia", "Augsburg", nan, "North", 0.0, "Partial", nan, (*int64)(nil), "Ground", int32(2020), nan},
	}}

	var got solar.Dataset
	rc := solar.NewRechunker(10, func(c solar.Dataset) error {
		got = append(got, c...)
		return nil
	})
	require.NoError(t, scanRows(context.Background(), rows, rc))

	require.Len(t, got, 2)
	assert.Equal(t, solar.Int(24), got[0].NumberOfModules)
	assert.Equal(t, solar.Float(0.01), got[0].GrossPower)
	assert.Equal(t, solar.Int(2019), got[0].CommissioningYear)
	assert.False(t, got[0].Efficiency.Valid)

	assert.Equal(t, solar.MissingInt, got[1].NumberOfModules)
	assert.False(t, got[1].GrossPower.Valid)
	assert.Equal(t, solar.Float(0), got[1].NetRatedPower)
}

func TestScanRowsIteratorError(t *testing.T) {
	boom := errors.New("broken pipe")
	rc := solar.NewRechunker(1, func(solar.Dataset) error { return nil })
	err := scanRows(context.Background(), &fakeRows{err: boom}, rc)
	assert.ErrorIs(t, err, boom)
}
