package sqlutil

import (
	"database/sql"
	"time"
)

// FromSqlInt32 returns nil for NULL.
func FromSqlInt32(val sql.NullInt32) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int32)
	return &i
}

// FromSqlTime returns nil for NULL.
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}
