package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalMarshal marshals v into canonical JSON (RFC 8785-ish): map keys
// sorted (Go's default for maps; struct fields keep their declaration
// order), no HTML escaping, no indentation, no trailing newline.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	ret := buf.Bytes()
	if len(ret) > 0 && ret[len(ret)-1] == '\n' {
		ret = ret[:len(ret)-1]
	}
	return ret, nil
}
