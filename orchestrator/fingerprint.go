// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint returns a stable SHA-256 hex digest of any JSON-encodable
// value. Maps are canonicalized with sorted keys so logically equal
// values always hash identically, regardless of encoding order.
func Fingerprint(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}

	var sb strings.Builder
	writeCanonical(&sb, decoded)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:]), nil
}

// writeCanonical renders decoded JSON with sorted object keys and no
// insignificant whitespace
func writeCanonical(sb *strings.Builder, v interface{}) {
	switch value := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encoded, _ := json.Marshal(k)
			sb.Write(encoded)
			sb.WriteByte(':')
			writeCanonical(sb, value[k])
		}
		sb.WriteByte('}')
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	default:
		encoded, _ := json.Marshal(value)
		sb.Write(encoded)
	}
}
