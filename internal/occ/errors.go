package occ

import "errors"

var (
	errTxAborted          = errors.New("transaction already aborted")
	errTxAlreadyCommitted = errors.New("transaction already committed")
	errValidationConflict = errors.New("read set conflicts with a concurrent commit")
)
