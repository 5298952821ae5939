package store

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// sqliteTimeLayout is fixed width so stored timestamps compare lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func (d Dialect) schema() string {
	if d == DialectPostgres {
		return postgresSchema
	}
	return sqliteSchema
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) claimLock() string {
	if d == DialectPostgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func (d Dialect) timeArg(t time.Time) any {
	if d == DialectPostgres {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func (d Dialect) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeArg(*t)
}

// statements splits a schema file into individual statements.
func statements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// timeScanner reads timestamps stored natively (Postgres) or as text (SQLite).
type timeScanner struct {
	dest **time.Time
}

func scanTime(dest **time.Time) timeScanner {
	return timeScanner{dest: dest}
}

func (s timeScanner) Scan(src any) error {
	var t time.Time
	switch v := src.(type) {
	case nil:
		*s.dest = nil
		return nil
	case time.Time:
		t = v.UTC()
	case string:
		parsed, err := parseStoredTime(v)
		if err != nil {
			return err
		}
		t = parsed
	case []byte:
		parsed, err := parseStoredTime(string(v))
		if err != nil {
			return err
		}
		t = parsed
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	*s.dest = &t
	return nil
}

func parseStoredTime(v string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
}

// requiredTime adapts timeScanner for NOT NULL columns.
type requiredTime struct {
	dest *time.Time
}

func (r requiredTime) Scan(src any) error {
	var p *time.Time
	if err := scanTime(&p).Scan(src); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("unexpected NULL timestamp")
	}
	*r.dest = *p
	return nil
}
