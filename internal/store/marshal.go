package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/covenant/internal/receipt"
)

// Receipt bodies travel as JSON. The JSON is storage transport only;
// the hashing preimage is the receipt canon, and LoadChain recomputes
// it from the decoded struct. Exact values and contract terms encode
// through their text forms, so no float ever touches the row.

func marshalStep(r *receipt.Step) (string, error) {
	data, err := encodeJSON(r)
	if err != nil {
		return "", fmt.Errorf("marshal step receipt: %w", err)
	}
	return data, nil
}

func unmarshalStep(data string) (*receipt.Step, error) {
	var r receipt.Step
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("unmarshal step receipt: %w", err)
	}
	return &r, nil
}

func marshalCommit(c *receipt.Commit) (string, error) {
	data, err := encodeJSON(c)
	if err != nil {
		return "", fmt.Errorf("marshal commit receipt: %w", err)
	}
	return data, nil
}

func unmarshalCommit(data string) (*receipt.Commit, error) {
	var c receipt.Commit
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("unmarshal commit receipt: %w", err)
	}
	return &c, nil
}

// encodeJSON marshals without HTML escaping so digests and ids are
// stored byte-for-byte as written.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
