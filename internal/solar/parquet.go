package solar

import (
	"io"

	"github.com/go-faster/errors"
	"github.com/parquet-go/parquet-go"
)

// parquetRow matches the Parquet snapshot schema. Optional columns map to
// missing values.
type parquetRow struct {
	State                       string   `parquet:"state"`
	AdministrativeRegion        string   `parquet:"administrative_region"`
	City                        string   `parquet:"city"`
	GrossPower                  *float64 `parquet:"gross_power,optional"`
	MainOrientation             string   `parquet:"main_orientation"`
	NetRatedPower               *float64 `parquet:"net_rated_power,optional"`
	FeedInType                  string   `parquet:"feed_in_type"`
	AssignedActivePowerInverter *float64 `parquet:"assigned_active_power_inverter,optional"`
	NumberOfModules             *int64   `parquet:"number_of_modules,optional"`
	Location                    string   `parquet:"location"`
	CommissioningYear           *int64   `parquet:"commissioning_year,optional"`
	Efficiency                  *float64 `parquet:"efficiency,optional"`
}

const parquetBatch = 4096

func floatPtr(f NullFloat) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func intPtr(n NullInt) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func fromFloatPtr(p *float64) NullFloat {
	if p == nil {
		return Missing
	}
	return Float(*p)
}

func fromIntPtr(p *int64) NullInt {
	if p == nil {
		return MissingInt
	}
	return Int(*p)
}

func toParquet(r *Record) parquetRow {
	return parquetRow{
		State:                       r.State,
		AdministrativeRegion:        r.AdministrativeRegion,
		City:                        r.City,
		GrossPower:                  floatPtr(r.GrossPower),
		MainOrientation:             r.MainOrientation,
		NetRatedPower:               floatPtr(r.NetRatedPower),
		FeedInType:                  r.FeedInType,
		AssignedActivePowerInverter: floatPtr(r.AssignedActivePowerInverter),
		NumberOfModules:             intPtr(r.NumberOfModules),
		Location:                    r.Location,
		CommissioningYear:           intPtr(r.CommissioningYear),
		Efficiency:                  floatPtr(r.Efficiency),
	}
}

func fromParquet(p *parquetRow) Record {
	return Record{
		State:                       p.State,
		AdministrativeRegion:        p.AdministrativeRegion,
		City:                        p.City,
		GrossPower:                  fromFloatPtr(p.GrossPower),
		MainOrientation:             p.MainOrientation,
		NetRatedPower:               fromFloatPtr(p.NetRatedPower),
		FeedInType:                  p.FeedInType,
		AssignedActivePowerInverter: fromFloatPtr(p.AssignedActivePowerInverter),
		NumberOfModules:             fromIntPtr(p.NumberOfModules),
		Location:                    p.Location,
		CommissioningYear:           fromIntPtr(p.CommissioningYear),
		Efficiency:                  fromFloatPtr(p.Efficiency),
	}
}

// WriteParquet writes ds as a single Parquet file to w.
func WriteParquet(w io.Writer, ds Dataset) error {
	pw := parquet.NewGenericWriter[parquetRow](w)

	rows := make([]parquetRow, 0, parquetBatch)
	for i := range ds {
		rows = append(rows, toParquet(&ds[i]))
		if len(rows) == parquetBatch {
			if _, err := pw.Write(rows); err != nil {
				return errors.Wrap(err, "parquet: write")
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return errors.Wrap(err, "parquet: write")
		}
	}
	if err := pw.Close(); err != nil {
		return errors.Wrap(err, "parquet: close")
	}
	return nil
}

// ReadParquet reads a file written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) (Dataset, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "parquet: open")
	}

	reader := parquet.NewGenericReader[parquetRow](pf)
	defer reader.Close()

	ds := make(Dataset, 0, reader.NumRows())
	rows := make([]parquetRow, parquetBatch)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			ds = append(ds, fromParquet(&rows[i]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "parquet: read")
		}
		if n == 0 {
			break
		}
	}
	return ds, nil
}
