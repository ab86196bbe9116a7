package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "MANGACATALOG_"

// Env returns the trimmed value of MANGACATALOG_<key> and whether it was set
// to something non-empty.
func Env(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// EnvString overrides dst when the variable is set.
func EnvString(key string, dst *string) {
	if v, ok := Env(key); ok {
		*dst = v
	}
}

// EnvInt overrides dst when the variable holds an integer.
// if parse fails, dst keeps its value
func EnvInt(key string, dst *int) {
	v, ok := Env(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// EnvFloat overrides dst when the variable holds a number.
func EnvFloat(key string, dst *float64) {
	v, ok := Env(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

// EnvBool overrides dst when the variable holds a boolean ("1", "true", ...).
func EnvBool(key string, dst *bool) {
	v, ok := Env(key)
	if !ok {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// EnvList overrides dst with a comma-separated list.
func EnvList(key string, dst *[]string) {
	v, ok := Env(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// HoursOr reads an hour count, falling back to def.
func HoursOr(key string, def time.Duration) time.Duration {
	v, ok := Env(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Hour
}
