package solar

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryCSV = `State,AdministrativeRegion,City,GrossPower,MainOrientation,NetRatedPower,FeedInType,AssignedActivePowerInverter,NumberOfModules,Location,CommissioningYear,Efficiency
Bavaria,Upper Bavaria,Munich,0.01,South,0.008,Full feed-in,8,24,Building,2019,
Berlin,Berlin,Berlin,0.005,West,0,Partial feed-in,5,12,Building,not-a-year,
"""Hesse""",Kassel,Kassel,abc,East,0.004,Full feed-in,,10.0,Ground,2021.0,9.9
`

func TestReaderDecodesPermissively(t *testing.T) {
	ds, err := ReadAll(strings.NewReader(registryCSV))
	require.NoError(t, err)
	require.Len(t, ds, 3)

	assert.Equal(t, "Bavaria", ds[0].State)
	assert.Equal(t, Float(0.01), ds[0].GrossPower)
	assert.Equal(t, Int(2019), ds[0].CommissioningYear)
	assert.Equal(t, Int(24), ds[0].NumberOfModules)
	assert.False(t, ds[0].Efficiency.Valid)

	assert.Equal(t, MissingInt, ds[1].CommissioningYear)
	assert.Equal(t, Float(0), ds[1].NetRatedPower)

	assert.Equal(t, "Hesse", ds[2].State)
	assert.Equal(t, Missing, ds[2].GrossPower)
	assert.Equal(t, Missing, ds[2].AssignedActivePowerInverter)
	assert.Equal(t, Int(10), ds[2].NumberOfModules)
	assert.Equal(t, Int(2021), ds[2].CommissioningYear)
}

func TestReaderHeaderByName(t *testing.T) {
	src := "City,State,Administrative Region,CommissioningYear,GrossPower,NetRatedPower," +
		"MainOrientation,FeedInType,AssignedActivePowerInverter,NumberOfModules,Location\n" +
		"Cologne,North Rhine-Westphalia,Cologne,2018,1,2,South,Full,3,4,Building\n"

	ds, err := ReadAll(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "Cologne", ds[0].City)
	assert.Equal(t, "North Rhine-Westphalia", ds[0].State)
	assert.Equal(t, "Cologne", ds[0].AdministrativeRegion)
	assert.Equal(t, Int(2018), ds[0].CommissioningYear)
	assert.False(t, ds[0].Efficiency.Valid)
}

func TestReaderMissingColumn(t *testing.T) {
	_, err := NewReader(strings.NewReader("State,City\nBavaria,Munich\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AdministrativeRegion")

	_, err = NewReader(strings.NewReader(""))
	assert.Error(t, err)
}

func TestReadChunks(t *testing.T) {
	var sizes []int
	stats, err := ReadChunks(strings.NewReader(registryCSV), 2, func(c Dataset) error {
		sizes = append(sizes, len(c))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, int64(3), stats.TotalRowsRead)
	assert.Equal(t, int64(1), stats.MissingYears)
}

func TestReadChunksStopsOnCallbackError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := ReadChunks(strings.NewReader(registryCSV), 1, func(Dataset) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWriterRoundTrip(t *testing.T) {
	ds, err := ReadAll(strings.NewReader(registryCSV))
	require.NoError(t, err)
	ds.ComputeEfficiency()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, true)
	require.NoError(t, err)
	for _, c := range ds.Chunks(2) {
		require.NoError(t, w.Write(c))
	}

	header, _, _ := strings.Cut(buf.String(), "\n")
	assert.Equal(t, strings.Join(Columns, ","), header)

	back, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, ds, back)
	assert.InDelta(t, 1.25, back[0].Efficiency.Value, 1e-9)
	assert.False(t, back[1].Efficiency.Valid)
}

func TestOpenCSVGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.csv.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(registryCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	ds, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, ds, 3)
}

func TestLoadProcessedMissing(t *testing.T) {
	ds, err := LoadProcessed(filepath.Join(t.TempDir(), "processed_solar_data_2000_2001.csv"))
	assert.ErrorIs(t, err, ErrNotPreprocessed)
	assert.NotNil(t, ds)
	assert.Zero(t, ds.Len())
}

func TestParquetRoundTrip(t *testing.T) {
	ds, err := ReadAll(strings.NewReader(registryCSV))
	require.NoError(t, err)
	ds.ComputeEfficiency()

	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, ds))

	back, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, ds, back)
}

func TestReaderStripsByteOrderMark(t *testing.T) {
	ds, err := ReadAll(strings.NewReader("\uFEFF" + registryCSV))
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, "Bavaria", ds[0].State)
	assert.Equal(t, Int(2019), ds[0].CommissioningYear)
}

func TestReaderNegativeModuleCount(t *testing.T) {
	src := strings.SplitN(registryCSV, "\n", 2)[0] + "\n" +
		"Bavaria,Swabia,Augsburg,0.01,South,0.008,Full feed-in,8,-3,Building,2019,\n" +
		"Bavaria,Swabia,Augsburg,0.01,South,0.008,Full feed-in,8,0,Building,2019,\n"

	ds, err := ReadAll(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, MissingInt, ds[0].NumberOfModules)
	assert.Equal(t, Int(0), ds[1].NumberOfModules)
}

func TestReadChunksLargerThanInput(t *testing.T) {
	var sizes []int
	_, err := ReadChunks(strings.NewReader(registryCSV), math.MaxInt, func(c Dataset) error {
		assert.LessOrEqual(t, cap(c), maxPrealloc)
		sizes = append(sizes, len(c))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, sizes)
}
