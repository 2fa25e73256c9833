package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queryable is the common surface shared by *sqlx.DB and *sqlx.Tx. Stores
// accept a Queryable as their first argument so that callers can compose
// multiple store operations inside a single transaction (see WrapTx).
type Queryable interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	Exec(query string, args ...interface{}) (sql.Result, error)
	NamedExec(query string, arg interface{}) (sql.Result, error)
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Rebind(query string) string
}

// JsonColumn is a generic sql.Scanner for columns which hold a JSON
// aggregation (typically a JSONB_AGG over a joined table). Scanning a SQL
// NULL leaves the contained value at it's zero value.
type JsonColumn[T any] struct {
	val *T
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = new(T)
		return nil
	}

	srcBytes, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	j.val = new(T)
	return json.Unmarshal(srcBytes, j.val)
}

// Get returns the scanned value. A column which has not been
// scanned returns a pointer to the zero value.
func (j *JsonColumn[T]) Get() *T {
	if j.val == nil {
		return new(T)
	}

	return j.val
}
