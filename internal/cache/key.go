package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/statdash/statdash/pkg/errors"
)

const (
	// maxTokenLen keeps file names well under the 255 byte limit of common
	// filesystems once the disk extension is appended.
	maxTokenLen    = 200
	tokenPrefixLen = 160
)

// ErrEmptyKey is returned when an operation that touches the disk tier is
// given an empty key.
var ErrEmptyKey = errors.New(errors.ErrCodeCacheKeyInvalid, "cache key cannot be empty")

// SafeToken maps a cache key to a name that is safe to use as a single path
// component. Bytes in [A-Za-z0-9._-] are kept, every other byte (including
// '%') becomes %XX, and a leading '.' is escaped so no token is hidden or
// equal to "." or "..". Distinct keys yield distinct tokens.
//
// Tokens longer than maxTokenLen are shortened to a prefix followed by '~'
// and the xxhash64 of the full key. '~' never appears in an unshortened token.
func SafeToken(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))

	for i := 0; i < len(key); i++ {
		c := key[i]
		if isTokenByte(c) && (i > 0 || c != '.') {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "%%%02X", c)
	}

	token := sb.String()
	if len(token) > maxTokenLen {
		token = fmt.Sprintf("%s~%016x", token[:tokenPrefixLen], xxhash.Sum64String(key))
	}
	return token
}

// KeyFromToken reverses SafeToken. It fails for shortened tokens and for
// names SafeToken would never produce.
func KeyFromToken(token string) (string, bool) {
	if token == "" || strings.Contains(token, "~") {
		return "", false
	}

	var sb strings.Builder
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c == '%' {
			if i+2 >= len(token) {
				return "", false
			}
			b, err := strconv.ParseUint(token[i+1:i+3], 16, 8)
			if err != nil {
				return "", false
			}
			sb.WriteByte(byte(b))
			i += 2
			continue
		}
		if !isTokenByte(c) {
			return "", false
		}
		sb.WriteByte(c)
	}

	key := sb.String()
	return key, SafeToken(key) == token
}

func isTokenByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-':
		return true
	}
	return false
}
