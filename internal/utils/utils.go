package utils

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ContentHash returns a short digest of a notebook body, used to detect
// re-uploads of identical template content.
func ContentHash(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 32)
}
