package cache

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

var keyHash = xxhash.Sum64

// BuildKey derives the storage key for (category, params). Params are JSON
// encoded in order, so deep-equal inputs always map to the same key (map keys
// are sorted by encoding/json). The encoding is hashed to keep keys short.
func BuildKey(category Category, params ...any) (string, error) {
	key, _, err := deriveKey(category, params...)
	return key, err
}

// deriveKey returns the hashed key together with the canonical params
// encoding it was built from. Entries store the encoding and lookups compare
// it, so two param sets that hash alike never share a result.
func deriveKey(category Category, params ...any) (key, canon string, err error) {
	if params == nil {
		params = []any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", "", fmt.Errorf("encode %s key params: %w", category, err)
	}
	return keyPrefix(category) + strconv.FormatUint(keyHash(b), 16), string(b), nil
}

func keyPrefix(category Category) string {
	return string(category) + ":"
}
