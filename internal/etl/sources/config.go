package sources

import (
	"fmt"
	"strconv"
	"time"

	"hybriddb/internal/etl"
)

// Config values arrive from YAML, env or JSON, so numbers and booleans
// may be typed or strings.

func cfgString(cfg etl.SourceConfig, key, def string) string {
	if v, ok := cfg[key]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return def
}

func cfgInt(cfg etl.SourceConfig, key string, def int) (int, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unsupported value %v", key, v)
	}
}

func cfgBool(cfg etl.SourceConfig, key string) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func cfgDuration(cfg etl.SourceConfig, key string, def time.Duration) (time.Duration, error) {
	switch v := cfg[key].(type) {
	case nil:
		return def, nil
	case time.Duration:
		return v, nil
	case string:
		if v == "" {
			return def, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%s: unsupported value %v", key, v)
	}
}
