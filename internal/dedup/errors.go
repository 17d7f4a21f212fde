package dedup

import "errors"

var errChunkMissing = errors.New("referenced chunk not found in store")
