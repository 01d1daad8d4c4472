package queue

import (
	_ "embed"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// sqliteTimeLayout is fixed width so lexicographic order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteConstraintUnique  = 2067
	postgresUniqueViolation = "23505"
)

// dialect captures the SQL differences between the supported backends.
type dialect struct {
	name             string
	schema           string
	tableExistsQuery string
	numbered         bool
}

var (
	sqliteDialect = dialect{
		name:             "sqlite",
		schema:           sqliteSchema,
		tableExistsQuery: "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?",
	}
	postgresDialect = dialect{
		name:             "postgres",
		schema:           postgresSchema,
		tableExistsQuery: "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?",
		numbered:         true,
	}
)

// rebind rewrites ? placeholders to $n for Postgres. Queries in this package
// never carry a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// encodeTime converts a timestamp into the value bound for the backend.
func (d dialect) encodeTime(t time.Time) any {
	if d.numbered {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func (d dialect) encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.encodeTime(*t)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolation
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteConstraintUnique {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullTime scans timestamps stored as TEXT (SQLite) or TIMESTAMPTZ (Postgres).
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return errors.New("unsupported timestamp type")
	}
}

func (n *nullTime) parse(value string) error {
	if strings.TrimSpace(value) == "" {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	t, err := parseTimeString(value)
	if err != nil {
		return err
	}
	n.Time, n.Valid = t.UTC(), true
	return nil
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if t, err := time.Parse(sqliteTimeLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
