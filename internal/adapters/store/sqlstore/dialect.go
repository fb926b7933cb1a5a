package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the supported databases
type Dialect struct {
	Name   string
	Driver string

	types        *strings.Replacer
	insertIgnore string
	conflictTail string
}

var dialects = map[string]*Dialect{
	"sqlite": {
		Name:   "sqlite",
		Driver: "sqlite3",
		types: strings.NewReplacer(
			"{id}", "TEXT", "{key}", "TEXT", "{text}", "TEXT",
			"{ts}", "TIMESTAMP", "{real}", "REAL", "{bool}", "BOOLEAN", "{ifne}", "IF NOT EXISTS ",
		),
		insertIgnore: "INSERT OR IGNORE INTO",
	},
	"mysql": {
		Name:   "mysql",
		Driver: "mysql",
		types: strings.NewReplacer(
			"{id}", "VARCHAR(64)", "{key}", "VARCHAR(255)", "{text}", "TEXT",
			"{ts}", "DATETIME(6)", "{real}", "DOUBLE", "{bool}", "BOOLEAN", "{ifne}", "",
		),
		insertIgnore: "INSERT IGNORE INTO",
	},
	"postgres": {
		Name:   "postgres",
		Driver: "pgx",
		types: strings.NewReplacer(
			"{id}", "TEXT", "{key}", "TEXT", "{text}", "TEXT",
			"{ts}", "TIMESTAMPTZ", "{real}", "DOUBLE PRECISION", "{bool}", "BOOLEAN", "{ifne}", "IF NOT EXISTS ",
		),
		insertIgnore: "INSERT INTO",
		conflictTail: " ON CONFLICT DO NOTHING",
	},
}

// LookupDialect returns the dialect for a store type
func LookupDialect(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return dialects["sqlite"], nil
	case "mysql":
		return dialects["mysql"], nil
	case "postgres", "postgresql", "pgx":
		return dialects["postgres"], nil
	default:
		return nil, fmt.Errorf("unsupported SQL dialect: %s", name)
	}
}

// PrepareDSN adjusts a MySQL DSN so that the driver returns time.Time for timestamp columns
func (d *Dialect) PrepareDSN(dsn string) (string, error) {
	if d.Name != "mysql" {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	// report matched rather than changed rows so no-op updates still find their row
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

// ddl expands the column type placeholders of a statement
func (d *Dialect) ddl(stmt string) string {
	return d.types.Replace(stmt)
}

// insertIgnoreStatement builds an insert that does nothing when the key exists
func (d *Dialect) insertIgnoreStatement(table, columns, values string) string {
	return fmt.Sprintf("%s %s (%s) VALUES (%s)%s", d.insertIgnore, table, columns, values, d.conflictTail)
}

// isDuplicateIndex recognises MySQL's error for an index that already exists
func isDuplicateIndex(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1061
}

// isUniqueViolation recognises duplicate key errors of every supported driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
