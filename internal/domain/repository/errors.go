package repository

import "errors"

var (
	// ErrDuplicateKey is returned when an append would overwrite an existing row.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidRecord is returned when an append holds a malformed record.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrUnknownTable is returned by Reset for tables it does not manage.
	ErrUnknownTable = errors.New("unknown table")
)

// IsPermanent reports errors that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrInvalidRecord) || errors.Is(err, ErrUnknownTable)
}
