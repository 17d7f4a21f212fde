package txn

import "errors"

var errUnknownTxn = errors.New("no transaction with that id")
