package repo

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a duplicate id or a lost optimistic update race.
	ErrConflict = errors.New("conflict")
	// ErrStatusConflict reports that a guarded status change found the
	// record in a status it may not leave.
	ErrStatusConflict = errors.New("status conflict")
)
