package solar

// This file contains the CSV codec for registry records: a streaming reader
// with chunk rotation, a chunk writer, and file helpers.

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"

	"github.com/KI7MT/ki7mt-solar-germany/internal/logging"
)

// MaxErrorsToLog throttles per-row parse error logging.
const MaxErrorsToLog = 10

// ErrNotPreprocessed is returned with an empty dataset when the processed
// cache for a range has not been built yet.
var ErrNotPreprocessed = errors.New("processed data not found")

// ParseStats holds counters for one read pass.
type ParseStats struct {
	TotalRowsRead    int64 // data rows read (excluding header)
	FailedRows       int64 // rows the CSV layer could not decode
	SkippedEmptyRows int64
	MissingYears     int64 // rows whose CommissioningYear was coerced to missing
}

// =============================================================================
// Reader
// =============================================================================

// Reader decodes records from header-first CSV. Columns are located by
// header name, so sources with a different column order (or without the
// Efficiency column) decode the same way. Numeric cells are parsed
// permissively: bad values become missing markers and the row is kept.
type Reader struct {
	csv    *csv.Reader
	index  [NumColumns]int
	stats  ParseStats
	errors int
}

// NewReader reads the header row from r and returns a Reader positioned at
// the first data row.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("csv: missing header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "csv: read header")
	}

	rd := &Reader{csv: cr}
	for i := range rd.index {
		rd.index[i] = -1
	}
	for pos, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))
		if col := columnIndex(name); col >= 0 {
			rd.index[col] = pos
		}
	}
	for col, pos := range rd.index {
		if pos < 0 && col != ColEfficiency {
			return nil, fmt.Errorf("csv: header is missing column %q", Columns[col])
		}
	}
	return rd, nil
}

// columnIndex resolves a header name. "Administrative Region" (with a
// space) is the spelling used by the model feature table and some exports.
func columnIndex(name string) int {
	compact := strings.ReplaceAll(name, " ", "")
	for i, c := range Columns {
		if strings.EqualFold(c, compact) {
			return i
		}
	}
	return -1
}

// Stats returns the counters accumulated so far.
func (rd *Reader) Stats() ParseStats {
	return rd.stats
}

// Read returns the next record, or io.EOF after the last one.
func (rd *Reader) Read() (Record, error) {
	for {
		fields, err := rd.csv.Read()
		if err == io.EOF {
			if rd.errors > MaxErrorsToLog {
				logging.Warn().Int("suppressed", rd.errors-MaxErrorsToLog).Msg("further csv parse errors suppressed")
			}
			return Record{}, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return Record{}, errors.Wrap(err, "csv: read")
			}
			rd.stats.FailedRows++
			rd.errors++
			if rd.errors <= MaxErrorsToLog {
				logging.Warn().Err(err).Int64("row", rd.stats.TotalRowsRead+1).Msg("csv parse error, row skipped")
			}
			continue
		}

		rd.stats.TotalRowsRead++
		if len(fields) == 0 || (len(fields) == 1 && strings.TrimSpace(fields[0]) == "") {
			rd.stats.SkippedEmptyRows++
			continue
		}

		rec := rd.decode(fields)
		if !rec.CommissioningYear.Valid {
			rd.stats.MissingYears++
		}
		return rec, nil
	}
}

func (rd *Reader) field(fields []string, col int) string {
	pos := rd.index[col]
	if pos < 0 || pos >= len(fields) {
		return ""
	}
	return fields[pos]
}

// parseCount is ParseNullInt for columns that cannot be negative.
func parseCount(s string) NullInt {
	n := ParseNullInt(s)
	if n.Valid && n.Value < 0 {
		return MissingInt
	}
	return n
}

func (rd *Reader) decode(fields []string) Record {
	rec := Record{
		State:                       rd.field(fields, ColState),
		AdministrativeRegion:        rd.field(fields, ColAdministrativeRegion),
		City:                        rd.field(fields, ColCity),
		GrossPower:                  ParseNullFloat(rd.field(fields, ColGrossPower)),
		MainOrientation:             rd.field(fields, ColMainOrientation),
		NetRatedPower:               ParseNullFloat(rd.field(fields, ColNetRatedPower)),
		FeedInType:                  rd.field(fields, ColFeedInType),
		AssignedActivePowerInverter: ParseNullFloat(rd.field(fields, ColAssignedActivePowerInverter)),
		NumberOfModules:             parseCount(rd.field(fields, ColNumberOfModules)),
		Location:                    rd.field(fields, ColLocation),
		CommissioningYear:           ParseNullInt(rd.field(fields, ColCommissioningYear)),
		Efficiency:                  ParseNullFloat(rd.field(fields, ColEfficiency)),
	}
	// ReuseRecord hands back a shared backing array; labels must not alias it.
	rec.State = strings.Clone(rec.State)
	rec.AdministrativeRegion = strings.Clone(rec.AdministrativeRegion)
	rec.City = strings.Clone(rec.City)
	rec.MainOrientation = strings.Clone(rec.MainOrientation)
	rec.FeedInType = strings.Clone(rec.FeedInType)
	rec.Location = strings.Clone(rec.Location)
	CleanRecord(&rec)
	return rec
}

// ReadChunk returns up to n records. It returns io.EOF only when no records
// remain.
func (rd *Reader) ReadChunk(n int) (Dataset, error) {
	if n < 1 {
		n = 1
	}
	chunk := make(Dataset, 0, min(n, maxPrealloc))
	for len(chunk) < n {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, rec)
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

// ReadChunks streams r in chunks of chunkSize records, calling fn for each
// chunk in file order.
func ReadChunks(r io.Reader, chunkSize int, fn ChunkFunc) (ParseStats, error) {
	rd, err := NewReader(r)
	if err != nil {
		return ParseStats{}, err
	}
	for {
		chunk, err := rd.ReadChunk(chunkSize)
		if err == io.EOF {
			return rd.Stats(), nil
		}
		if err != nil {
			return rd.Stats(), err
		}
		if err := fn(chunk); err != nil {
			return rd.Stats(), err
		}
	}
}

// ReadAll decodes every record in r.
func ReadAll(r io.Reader) (Dataset, error) {
	var ds Dataset
	_, err := ReadChunks(r, 65536, func(chunk Dataset) error {
		ds = append(ds, chunk...)
		return nil
	})
	return ds, err
}

// =============================================================================
// Writer
// =============================================================================

// Writer encodes records as CSV in Columns order.
type Writer struct {
	csv *csv.Writer
	row []string
}

// NewWriter returns a Writer. When header is true the header row is written
// before the first record.
func NewWriter(w io.Writer, header bool) (*Writer, error) {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Columns); err != nil {
			return nil, errors.Wrap(err, "csv: write header")
		}
	}
	return &Writer{csv: cw, row: make([]string, NumColumns)}, nil
}

// Write encodes one chunk and flushes it.
func (cw *Writer) Write(chunk Dataset) error {
	for i := range chunk {
		encodeRow(&chunk[i], cw.row)
		if err := cw.csv.Write(cw.row); err != nil {
			return errors.Wrap(err, "csv: write")
		}
	}
	cw.csv.Flush()
	if err := cw.csv.Error(); err != nil {
		return errors.Wrap(err, "csv: flush")
	}
	return nil
}

func encodeRow(r *Record, row []string) {
	row[ColState] = r.State
	row[ColAdministrativeRegion] = r.AdministrativeRegion
	row[ColCity] = r.City
	row[ColGrossPower] = r.GrossPower.String()
	row[ColMainOrientation] = r.MainOrientation
	row[ColNetRatedPower] = r.NetRatedPower.String()
	row[ColFeedInType] = r.FeedInType
	row[ColAssignedActivePowerInverter] = r.AssignedActivePowerInverter.String()
	row[ColNumberOfModules] = r.NumberOfModules.String()
	row[ColLocation] = r.Location
	row[ColCommissioningYear] = r.CommissioningYear.String()
	row[ColEfficiency] = r.Efficiency.String()
}

// =============================================================================
// File helpers
// =============================================================================

// OpenCSV opens a CSV file for reading. Files ending in .gz are decompressed
// with parallel gzip.
func OpenCSV(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	gz, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "gzip %s", path)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*pgzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gerr := g.Reader.Close()
	ferr := g.file.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}

// LoadFile reads a whole CSV file into memory.
func LoadFile(path string) (Dataset, error) {
	f, err := OpenCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return ds, nil
}

// LoadProcessed reads a processed cache. A missing file yields an empty
// dataset and ErrNotPreprocessed rather than a hard failure.
func LoadProcessed(path string) (Dataset, error) {
	ds, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Dataset{}, errors.Wrap(ErrNotPreprocessed, path)
	}
	return ds, err
}
