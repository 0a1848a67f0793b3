// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RequireParams returns a MissingParamError for the first key that is absent,
// nil, or an empty string.
func RequireParams(params map[string]interface{}, keys ...string) error {
	for _, key := range keys {
		v, ok := params[key]
		if !ok || v == nil {
			return &MissingParamError{Param: key}
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return &MissingParamError{Param: key}
		}
	}
	return nil
}

// GetString returns params[key] as a string. Numbers are formatted.
func GetString(params map[string]interface{}, key, defaultVal string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// GetInt returns params[key] as an int, accepting JSON numbers and numeric strings.
func GetInt(params map[string]interface{}, key string, defaultVal int) int {
	v, ok := params[key]
	if !ok || v == nil {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float64:
		return int(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// GetFloat returns params[key] as a float64, accepting numeric strings.
func GetFloat(params map[string]interface{}, key string, defaultVal float64) float64 {
	v, ok := params[key]
	if !ok || v == nil {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// GetBool returns params[key] as a bool, accepting "true"/"false" strings.
func GetBool(params map[string]interface{}, key string, defaultVal bool) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return defaultVal
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetMap returns params[key] as a map. JSON object strings are decoded.
func GetMap(params map[string]interface{}, key string) map[string]interface{} {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]interface{}:
		return val
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case string:
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(val), &out); err == nil {
			return out
		}
	}
	return nil
}

// GetSlice returns params[key] as a slice. JSON array strings are decoded.
func GetSlice(params map[string]interface{}, key string) []interface{} {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case []interface{}:
		return val
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out
	case string:
		var out []interface{}
		if err := json.Unmarshal([]byte(val), &out); err == nil {
			return out
		}
	}
	return nil
}

// GetStringSlice returns params[key] as a string slice. A plain string is
// split on commas.
func GetStringSlice(params map[string]interface{}, key string) []string {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	if s, isStr := v.(string); isStr && !strings.HasPrefix(strings.TrimSpace(s), "[") {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	items := GetSlice(params, key)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, fmt.Sprint(item))
	}
	return out
}
