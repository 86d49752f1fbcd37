package warehouse

import (
	"github.com/ClickHouse/ch-go/proto"

	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// block holds column data for native reads and inserts. Missing floats
// travel as NaN; NumberOfModules is Nullable(Int64).
type block struct {
	State                       *proto.ColStr
	AdministrativeRegion        *proto.ColStr
	City                        *proto.ColStr
	GrossPower                  *proto.ColFloat64
	MainOrientation             *proto.ColStr
	NetRatedPower               *proto.ColFloat64
	FeedInType                  *proto.ColStr
	AssignedActivePowerInverter *proto.ColFloat64
	NumberOfModules             *proto.ColNullable[int64]
	Location                    *proto.ColStr
	CommissioningYear           *proto.ColInt32
	Efficiency                  *proto.ColFloat64
}

func newBlock() *block {
	return &block{
		State:                       new(proto.ColStr),
		AdministrativeRegion:        new(proto.ColStr),
		City:                        new(proto.ColStr),
		GrossPower:                  new(proto.ColFloat64),
		MainOrientation:             new(proto.ColStr),
		NetRatedPower:               new(proto.ColFloat64),
		FeedInType:                  new(proto.ColStr),
		AssignedActivePowerInverter: new(proto.ColFloat64),
		NumberOfModules:             proto.NewColNullable[int64](new(proto.ColInt64)),
		Location:                    new(proto.ColStr),
		CommissioningYear:           new(proto.ColInt32),
		Efficiency:                  new(proto.ColFloat64),
	}
}

func (b *block) Reset() {
	b.State.Reset()
	b.AdministrativeRegion.Reset()
	b.City.Reset()
	b.GrossPower.Reset()
	b.MainOrientation.Reset()
	b.NetRatedPower.Reset()
	b.FeedInType.Reset()
	b.AssignedActivePowerInverter.Reset()
	b.NumberOfModules.Reset()
	b.Location.Reset()
	b.CommissioningYear.Reset()
	b.Efficiency.Reset()
}

func (b *block) Len() int {
	return b.CommissioningYear.Rows()
}

// Input returns the columns in solar.Columns order for INSERT.
func (b *block) Input() proto.Input {
	return proto.Input{
		{Name: "State", Data: b.State},
		{Name: "AdministrativeRegion", Data: b.AdministrativeRegion},
		{Name: "City", Data: b.City},
		{Name: "GrossPower", Data: b.GrossPower},
		{Name: "MainOrientation", Data: b.MainOrientation},
		{Name: "NetRatedPower", Data: b.NetRatedPower},
		{Name: "FeedInType", Data: b.FeedInType},
		{Name: "AssignedActivePowerInverter", Data: b.AssignedActivePowerInverter},
		{Name: "NumberOfModules", Data: b.NumberOfModules},
		{Name: "Location", Data: b.Location},
		{Name: "CommissioningYear", Data: b.CommissioningYear},
		{Name: "Efficiency", Data: b.Efficiency},
	}
}

// Results returns the columns in solar.Columns order for SELECT.
func (b *block) Results() proto.Results {
	return proto.Results{
		{Name: "State", Data: b.State},
		{Name: "AdministrativeRegion", Data: b.AdministrativeRegion},
		{Name: "City", Data: b.City},
		{Name: "GrossPower", Data: b.GrossPower},
		{Name: "MainOrientation", Data: b.MainOrientation},
		{Name: "NetRatedPower", Data: b.NetRatedPower},
		{Name: "FeedInType", Data: b.FeedInType},
		{Name: "AssignedActivePowerInverter", Data: b.AssignedActivePowerInverter},
		{Name: "NumberOfModules", Data: b.NumberOfModules},
		{Name: "Location", Data: b.Location},
		{Name: "CommissioningYear", Data: b.CommissioningYear},
		{Name: "Efficiency", Data: b.Efficiency},
	}
}

// Append adds r. Callers must skip records without a commissioning year;
// the column is part of the sorting key and is not nullable.
func (b *block) Append(r *solar.Record) {
	b.State.Append(r.State)
	b.AdministrativeRegion.Append(r.AdministrativeRegion)
	b.City.Append(r.City)
	b.GrossPower.Append(r.GrossPower.Float64())
	b.MainOrientation.Append(r.MainOrientation)
	b.NetRatedPower.Append(r.NetRatedPower.Float64())
	b.FeedInType.Append(r.FeedInType)
	b.AssignedActivePowerInverter.Append(r.AssignedActivePowerInverter.Float64())
	if r.NumberOfModules.Valid {
		b.NumberOfModules.Append(proto.NewNullable(r.NumberOfModules.Value))
	} else {
		b.NumberOfModules.Append(proto.Null[int64]())
	}
	b.Location.Append(r.Location)
	b.CommissioningYear.Append(int32(r.CommissioningYear.Value))
	b.Efficiency.Append(r.Efficiency.Float64())
}

// Record decodes row i.
func (b *block) Record(i int) solar.Record {
	modules := solar.MissingInt
	if n := b.NumberOfModules.Row(i); n.Set {
		modules = solar.Int(n.Value)
	}
	return solar.Record{
		State:                       b.State.Row(i),
		AdministrativeRegion:        b.AdministrativeRegion.Row(i),
		City:                        b.City.Row(i),
		GrossPower:                  solar.Float(b.GrossPower.Row(i)),
		MainOrientation:             b.MainOrientation.Row(i),
		NetRatedPower:               solar.Float(b.NetRatedPower.Row(i)),
		FeedInType:                  b.FeedInType.Row(i),
		AssignedActivePowerInverter: solar.Float(b.AssignedActivePowerInverter.Row(i)),
		NumberOfModules:             modules,
		Location:                    b.Location.Row(i),
		CommissioningYear:           solar.Int(int64(b.CommissioningYear.Row(i))),
		Efficiency:                  solar.Float(b.Efficiency.Row(i)),
	}
}

// Records decodes every row in the block.
func (b *block) Records() solar.Dataset {
	n := b.Len()
	ds := make(solar.Dataset, n)
	for i := 0; i < n; i++ {
		ds[i] = b.Record(i)
	}
	return ds
}
