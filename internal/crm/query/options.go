package query

import (
	"fmt"

	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/models"
)

type ViewMode string

const (
	ViewCards ViewMode = "cards"
	ViewTable ViewMode = "table"
)

// Options are the view settings a presentation layer passes in.
type Options struct {
	SearchTerm     string
	IndustryFilter string
	StatusFilter   string
	// SortKey defaults to insertion order when empty.
	SortKey SortKey
	// ViewMode only affects rendering and never the returned data.
	ViewMode ViewMode
}

// Validate checks option values without touching any records.
func (o Options) Validate() error {
	switch o.ViewMode {
	case "", ViewCards, ViewTable:
	default:
		return fmt.Errorf("%w: unknown view mode %q", e.ErrInvalidInput, o.ViewMode)
	}
	if !isAll(o.IndustryFilter) {
		if _, ok := models.ParseIndustry(o.IndustryFilter); !ok {
			return fmt.Errorf("%w: unknown industry %q", e.ErrInvalidInput, o.IndustryFilter)
		}
	}
	if !isAll(o.StatusFilter) {
		if _, ok := models.ParseStatus(o.StatusFilter); !ok {
			return fmt.Errorf("%w: unknown status %q", e.ErrInvalidInput, o.StatusFilter)
		}
	}
	if o.SortKey != "" {
		if _, err := comparator(o.SortKey); err != nil {
			return err
		}
	}
	return nil
}

// Apply runs search, then the field filters, then the sort. Search and
// filters narrow the set; the sort only reorders it.
func Apply(customers []models.Customer, opts Options) ([]models.Customer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	out := Search(customers, opts.SearchTerm)

	var err error
	if !isAll(opts.IndustryFilter) {
		industry, _ := models.ParseIndustry(opts.IndustryFilter)
		if out, err = FilterByField(out, FieldIndustry, industry.Label()); err != nil {
			return nil, err
		}
	}
	if !isAll(opts.StatusFilter) {
		status, _ := models.ParseStatus(opts.StatusFilter)
		if out, err = FilterByField(out, FieldStatus, string(status)); err != nil {
			return nil, err
		}
	}

	if opts.SortKey == "" {
		return out, nil
	}
	return Sort(out, opts.SortKey)
}
