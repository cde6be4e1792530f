// Package service holds the business rules behind every API operation.
// Every method takes the caller's user id explicitly and scopes all reads and
// writes to it.
package service

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// clock returns the current UTC time at the precision postgres stores.
func clock(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Microsecond)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
