package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/weave/internal/orm/schema"
)

// columnType maps a primitive kind to a column type for the active dialect
func (s *Store) columnType(f *schema.Field) string {
	switch f.Type {
	case schema.TypeInt, schema.TypeBigInt:
		return "BIGINT"
	case schema.TypeFloat, schema.TypeDecimal:
		return "DOUBLE PRECISION"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "TIMESTAMP"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeUUID:
		if s.postgres {
			return "UUID"
		}
		return "TEXT"
	case schema.TypeJSON:
		if s.postgres {
			return "JSONB"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

// CreateTableSQL returns the DDL for the store's table
func (s *Store) CreateTableSQL() string {
	var cols []string
	for _, name := range s.schema.FieldNames() {
		f := s.schema.Fields[name]
		col := quote(name) + " " + s.columnType(f)
		switch {
		case name == s.schema.IDField:
			col += " PRIMARY KEY"
		case f.Required:
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(s.table), strings.Join(cols, ", "))
}

// EnsureTable creates the table when it does not exist
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.CreateTableSQL())
	return convertError(err)
}
