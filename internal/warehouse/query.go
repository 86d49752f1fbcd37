// Package warehouse reads and writes the solar registry table in ClickHouse.
//
// Two read paths are provided: NativeSource (ch-go, columnar blocks) and
// StdSource (clickhouse-go, row scanning). Both request server-side paging
// at the caller's chunk size and re-emit exactly chunk-sized chunks in
// ascending CommissioningYear order.
package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-faster/errors"

	"github.com/KI7MT/ki7mt-solar-germany/internal/solar"
)

// Querier streams the records of a year range in chunks.
type Querier interface {
	QueryRange(ctx context.Context, minYear, maxYear, chunkSize int, fn solar.ChunkFunc) error
}

// Source is a Querier bound to a live connection.
type Source interface {
	Querier
	Close() error
}

// Driver selects the client library.
type Driver string

const (
	DriverNative Driver = "native" // ch-go
	DriverStd    Driver = "std"    // clickhouse-go/v2
)

// Options configures a warehouse connection.
type Options struct {
	Addr     string // host:port of the native protocol endpoint
	Database string
	Table    string
	User     string
	Password string
	Driver   Driver
}

// TableFQN returns "database.table".
func (o Options) TableFQN() string {
	return fmt.Sprintf("%s.%s", o.Database, o.Table)
}

// Open connects with the configured driver.
func Open(ctx context.Context, opts Options) (Source, error) {
	if err := ValidateIdent(opts.TableFQN()); err != nil {
		return nil, err
	}
	switch opts.Driver {
	case DriverNative, "":
		return DialNative(ctx, opts)
	case DriverStd:
		return OpenStd(ctx, opts)
	}
	return nil, fmt.Errorf("unknown warehouse driver %q", opts.Driver)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateIdent rejects table names that are not plain (optionally
// database-qualified) identifiers. Names are interpolated into SQL.
func ValidateIdent(name string) error {
	if !identRe.MatchString(name) {
		return errors.Errorf("invalid table name %q", name)
	}
	return nil
}

// BuildRangeQuery returns the year-range SELECT over the fixed column list.
func BuildRangeQuery(table string, minYear, maxYear int) string {
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE CommissioningYear BETWEEN %d AND %d ORDER BY CommissioningYear",
		strings.Join(solar.Columns, ", "), table, minYear, maxYear,
	)
}
