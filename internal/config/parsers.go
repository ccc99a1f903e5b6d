// Package config provides configuration loading and parsing for roomfire.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var keyFolder = strings.NewReplacer("_", "", "-", "")

// foldKey makes queue_capacity, queue-capacity and queueCapacity the same key.
func foldKey(k string) string {
	return keyFolder.Replace(strings.ToLower(strings.TrimSpace(k)))
}

// section is one decoded level of a config file, keyed by folded names.
type section map[string]interface{}

func newSection(value interface{}) (section, error) {
	s := section{}
	switch v := value.(type) {
	case nil:
	case map[string]interface{}:
		for k, val := range v {
			s[foldKey(k)] = val
		}
	case map[interface{}]interface{}:
		for k, val := range v {
			key, err := asString(k)
			if err != nil {
				return nil, err
			}
			s[foldKey(key)] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return s, nil
}

func (s section) lookup(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if val, ok := s[foldKey(k)]; ok {
			return val, true
		}
	}
	return nil, false
}

// set parses the first present key into dst and leaves dst alone otherwise.
func set[T any](s section, dst *T, parse func(interface{}) (T, error), keys ...string) error {
	raw, ok := s.lookup(keys...)
	if !ok {
		return nil
	}
	val, err := parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = val
	return nil
}

func trimmedString(value interface{}) (string, error) {
	s, err := asString(value)
	return strings.TrimSpace(s), err
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case map[string]interface{}, map[interface{}]interface{}, []interface{}:
		return "", fmt.Errorf("expected scalar, got %T", value)
	default:
		return fmt.Sprint(v), nil
	}
}

// number widens the numeric types produced by the JSON, YAML and TOML
// decoders viper uses.
func number(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func asInt(value interface{}) (int, error) {
	if value == nil {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	if f, ok := number(value); ok {
		return int(f), nil
	}
	return 0, fmt.Errorf("unsupported numeric type %T", value)
}

func asFloat64(value interface{}) (float64, error) {
	if value == nil {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	if f, ok := number(value); ok {
		return f, nil
	}
	return 0, fmt.Errorf("unsupported float type %T", value)
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(v))
	default:
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
}

// asDuration accepts Go duration strings. Bare numbers, quoted or not, are
// seconds and may be fractional.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(v)
	}
	if secs, ok := number(value); ok {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("unsupported duration type %T", value)
}

// asHeaders decodes a handshake header block. Names are canonicalized since
// viper lowercases nested keys.
func asHeaders(value interface{}) (map[string]string, error) {
	raw := map[string]interface{}{}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		for k, val := range v {
			raw[k] = val
		}
	case map[string]interface{}:
		raw = v
	case map[interface{}]interface{}:
		for k, val := range v {
			key, err := asString(k)
			if err != nil {
				return nil, err
			}
			raw[key] = val
		}
	default:
		return nil, fmt.Errorf("unsupported headers type %T", value)
	}

	headers := make(map[string]string, len(raw))
	for k, val := range raw {
		name := strings.TrimSpace(k)
		if name == "" {
			return nil, errors.New("header name cannot be empty")
		}
		str, err := trimmedString(val)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", name, err)
		}
		headers[http.CanonicalHeaderKey(name)] = str
	}
	return headers, nil
}

func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}
