// Package query derives views over a snapshot of customers: substring
// search, field-equality filters and stable sorting. Functions never modify
// their input and always return a new slice.
package query

import (
	"fmt"
	"slices"
	"strings"

	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/models"
	"golang.org/x/text/cases"
)

// AllValue is the filter value that disables a filter.
const AllValue = "All"

type Field string

const (
	FieldIndustry Field = "industry"
	FieldStatus   Field = "status"
	FieldCompany  Field = "company"
)

type SortKey string

const (
	SortRecent      SortKey = "recent"
	SortOldest      SortKey = "oldest"
	SortNameAsc     SortKey = "name_asc"
	SortNameDesc    SortKey = "name_desc"
	SortEmailAsc    SortKey = "email_asc"
	SortEmailDesc   SortKey = "email_desc"
	SortCompanyAsc  SortKey = "company_asc"
	SortCompanyDesc SortKey = "company_desc"
)

// SortKeys lists the supported sort keys.
func SortKeys() []SortKey {
	return []SortKey{
		SortRecent, SortOldest,
		SortNameAsc, SortNameDesc,
		SortEmailAsc, SortEmailDesc,
		SortCompanyAsc, SortCompanyDesc,
	}
}

// fold case-folds s for comparisons. A Caser is not safe for concurrent
// use, so one is made per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Search keeps customers whose name, email or company contains term,
// ignoring case. An empty term returns a copy of customers unchanged.
func Search(customers []models.Customer, term string) []models.Customer {
	term = strings.TrimSpace(term)
	if term == "" {
		return slices.Clone(customers)
	}

	caser := cases.Fold()
	needle := caser.String(term)
	out := make([]models.Customer, 0, len(customers))
	for _, c := range customers {
		for _, field := range []string{c.Name, c.Email, c.Company} {
			if strings.Contains(caser.String(field), needle) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func isAll(value string) bool {
	value = strings.TrimSpace(value)
	return value == "" || strings.EqualFold(value, AllValue)
}

// FilterByField keeps customers whose field equals value exactly. The value
// AllValue (any case) or an empty value keeps everything. For industry, value
// models.UnspecifiedLabel selects customers without an industry.
func FilterByField(customers []models.Customer, field Field, value string) ([]models.Customer, error) {
	if isAll(value) {
		return slices.Clone(customers), nil
	}

	var match func(models.Customer) bool
	switch field {
	case FieldIndustry:
		match = func(c models.Customer) bool { return c.Industry.Label() == value }
	case FieldStatus:
		match = func(c models.Customer) bool { return string(c.Status) == value }
	case FieldCompany:
		match = func(c models.Customer) bool { return c.Company == value }
	default:
		return nil, fmt.Errorf("%w: unknown filter field %q", e.ErrInvalidInput, field)
	}

	out := make([]models.Customer, 0, len(customers))
	for _, c := range customers {
		if match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Sort returns customers reordered by key. Input is taken to be in insertion
// order. recent and oldest order by AddedAt; ties fall back to insertion
// order, latest first for recent. Every other key is stable, and empty
// companies sort first in ascending order.
func Sort(customers []models.Customer, key SortKey) ([]models.Customer, error) {
	cmp, err := comparator(key)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(customers)
	if key == SortRecent {
		slices.Reverse(out)
	}
	slices.SortStableFunc(out, cmp)
	return out, nil
}

func comparator(key SortKey) (func(a, b models.Customer) int, error) {
	byText := func(get func(models.Customer) string, desc bool) func(a, b models.Customer) int {
		return func(a, b models.Customer) int {
			r := strings.Compare(fold(get(a)), fold(get(b)))
			if desc {
				return -r
			}
			return r
		}
	}
	name := func(c models.Customer) string { return c.Name }
	email := func(c models.Customer) string { return c.Email }
	company := func(c models.Customer) string { return c.Company }

	switch key {
	case SortRecent:
		return func(a, b models.Customer) int { return b.AddedAt.Compare(a.AddedAt) }, nil
	case SortOldest:
		return func(a, b models.Customer) int { return a.AddedAt.Compare(b.AddedAt) }, nil
	case SortNameAsc:
		return byText(name, false), nil
	case SortNameDesc:
		return byText(name, true), nil
	case SortEmailAsc:
		return byText(email, false), nil
	case SortEmailDesc:
		return byText(email, true), nil
	case SortCompanyAsc:
		return byText(company, false), nil
	case SortCompanyDesc:
		return byText(company, true), nil
	default:
		return nil, fmt.Errorf("%w: unknown sort key %q", e.ErrInvalidInput, key)
	}
}
