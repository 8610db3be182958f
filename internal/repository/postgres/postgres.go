package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/repository"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidTextInput    = "22P02"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func newBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// mapWriteError translates constraint violations into repository sentinels.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %w", repository.ErrConflict, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %w", repository.ErrReferenced, err)
		case pgInvalidTextInput:
			return fmt.Errorf("%w: %w", repository.ErrNotFound, err)
		}
	}
	return err
}

// isUUID reports whether id can match a UUID column. Any other value matches no row.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// uuidsOnly drops values that cannot match a UUID column.
func uuidsOnly(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			out = append(out, id)
		}
	}
	return out
}

// activeAt matches rows without expiry or expiring after now.
func activeAt(column string, now time.Time) squirrel.Sqlizer {
	return squirrel.Or{
		squirrel.Eq{column: nil},
		squirrel.Gt{column: now},
	}
}

func encodeScalarMap(m domain.ScalarMap) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode scalar map: %w", err)
	}
	return raw, nil
}

func decodeScalarMap(raw []byte) (domain.ScalarMap, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m domain.ScalarMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode scalar map: %w", err)
	}
	return m, nil
}
