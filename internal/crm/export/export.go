// Package export renders customer snapshots for download.
package export

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/gartstein/crm/internal/crm/models"
	"github.com/gartstein/crm/internal/crm/snapshot"
)

// CSVHeader is the fixed column order of ToCSV.
var CSVHeader = []string{"name", "email", "phone", "company", "industry", "added_at"}

// ToCSV writes a header row followed by one row per customer, in input order.
// Fields are quoted per RFC 4180 where needed. added_at is RFC 3339 and an
// absent industry is an empty cell.
func ToCSV(customers []models.Customer) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write(CSVHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range customers {
		row := []string{
			c.Name,
			c.Email,
			c.Phone,
			c.Company,
			string(c.Industry),
			c.AddedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row for customer %d: %w", c.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return sb.String(), nil
}

// ToJSON renders the canonical snapshot format, so the result can be imported
// or loaded as a data file unchanged.
func ToJSON(customers []models.Customer) (string, error) {
	data, err := snapshot.Encode(customers)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
