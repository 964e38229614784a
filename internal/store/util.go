package store

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var errNotFound = errors.New("store: object not found")

// ErrNotFound is returned by Collection.Get (and KV.Get) when no row matches.
var ErrNotFound = errNotFound

func newUUID() string {
	return uuid.New().String()
}

// readPath navigates a path like "/agtuuid" or "/a/b" into a generic
// json.Unmarshal result (map[string]any / []any / scalars), mirroring the
// original's read_key_at_path. Returns ok=false if any segment is absent,
// which the caller treats as "skip this attribute" rather than an error.
func readPath(v any, path string) (any, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	cur := v
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func regexMatch(pattern, value string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(value), nil
}

func formatFloatCompact(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
