// Package snapshot implements the canonical on-disk snapshot of the customer
// store: a pretty-printed JSON array of customer objects. The same format is
// used for JSON export, so anything exported can be loaded back.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gartstein/crm/internal/crm/models"
)

var jsonMarshalIndent = json.MarshalIndent

// Encode serializes customers as an indented JSON array. An empty or nil
// slice encodes as "[]".
func Encode(customers []models.Customer) ([]byte, error) {
	if customers == nil {
		customers = []models.Customer{}
	}
	data, err := jsonMarshalIndent(customers, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a snapshot produced by Encode. Blank input is rejected
// rather than read as an empty set.
func Decode(data []byte) ([]models.Customer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode snapshot: empty document")
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("decode snapshot: expected a JSON array")
	}
	var customers []models.Customer
	if err := json.Unmarshal(trimmed, &customers); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	return customers, nil
}
