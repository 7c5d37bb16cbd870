package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"mdingest/internal/partition"
)

const (
	codeDuplicateTable  = "42P07"
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

// Concurrent CREATE TABLE of the same name can lose the race on the system
// catalogs' unique indexes instead of raising duplicate_table.
var catalogRaceConstraints = map[string]bool{
	"pg_type_typname_nsp_index":  true,
	"pg_class_relname_nsp_index": true,
}

// classify wraps driver errors with the partition sentinels the core
// understands. Unrecognized errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeDuplicateTable:
		return fmt.Errorf("%w: %w", partition.ErrExists, err)
	case codeUniqueViolation:
		if catalogRaceConstraints[pgErr.ConstraintName] {
			return fmt.Errorf("%w: %w", partition.ErrExists, err)
		}
	case codeCheckViolation:
		if strings.Contains(pgErr.Message, "no partition of relation") {
			return fmt.Errorf("%w: %w", partition.ErrNoPartition, err)
		}
	}
	return err
}
