package cache

import (
	"encoding/json"
	"strings"
)

// GenerateKey joins non-empty parts with ':'.
func GenerateKey(prefix string, parts ...string) string {
	key := prefix
	for _, p := range parts {
		if p == "" {
			continue
		}
		key += ":" + p
	}
	return key
}

// encode mirrors what Redis stores: strings raw, everything else as JSON.
func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func decode(data []byte, dest interface{}) error {
	if s, ok := dest.(*string); ok {
		*s = string(data)
		return nil
	}
	return json.Unmarshal(data, dest)
}

func trimPrefix(key, prefix string) string {
	return strings.TrimPrefix(key, prefix+":")
}
