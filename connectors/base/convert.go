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
)

// ToRows converts decoded JSON into result rows. Arrays yield one row per
// element, objects yield a single row and scalars are wrapped under "value".
func ToRows(data interface{}) []map[string]interface{} {
	switch v := data.(type) {
	case nil:
		return []map[string]interface{}{}
	case []map[string]interface{}:
		return v
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				rows = append(rows, m)
			} else {
				rows = append(rows, map[string]interface{}{"value": item})
			}
		}
		return rows
	case map[string]interface{}:
		return []map[string]interface{}{v}
	default:
		return []map[string]interface{}{{"value": v}}
	}
}

// RowsFrom extracts rows from the list stored under key of a response
// object. When the key is missing the whole object becomes one row.
func RowsFrom(data map[string]interface{}, key string) []map[string]interface{} {
	if data == nil {
		return []map[string]interface{}{}
	}
	if list, ok := data[key]; ok {
		return ToRows(list)
	}
	return ToRows(data)
}

// ToMap converts an arbitrary value (typically an SDK response struct) into
// a JSON-shaped map. Non-object values are wrapped under "value".
func ToMap(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	if m, ok := decoded.(map[string]interface{}); ok {
		return m, nil
	}
	return map[string]interface{}{"value": decoded}, nil
}

// ToRowsOf converts a slice of SDK structs into rows.
func ToRowsOf(v interface{}) ([]map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return ToRows(decoded), nil
}
