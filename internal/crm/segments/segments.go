// Package segments evaluates named, non-exclusive customer segments. A
// segment is a row in a rule table: a name, a label and a predicate over one
// customer at an evaluation time. Membership is recomputed on every call.
package segments

import (
	"fmt"
	"strings"
	"time"

	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/models"
	"golang.org/x/text/cases"
)

const (
	VIP             = "vip"
	HighValue       = "high_value"
	GrowthPotential = "growth_potential"
)

const DefaultGrowthWindow = 30 * 24 * time.Hour

// Config parameterizes the built-in rules.
type Config struct {
	VIPCompanies      []string
	HighValueIndustry models.Industry
	GrowthWindow      time.Duration
}

// DefaultConfig returns the built-in parameters with an empty VIP list.
func DefaultConfig() Config {
	return Config{
		HighValueIndustry: models.Technology,
		GrowthWindow:      DefaultGrowthWindow,
	}
}

// Rule is one segment definition.
type Rule struct {
	Name  string
	Label string
	Match func(c models.Customer, at time.Time) bool
}

// BuiltIn returns the VIP, High-Value and Growth-Potential rules.
func BuiltIn(cfg Config) []Rule {
	vip := companySet(cfg.VIPCompanies)
	window := cfg.GrowthWindow
	industry := cfg.HighValueIndustry

	return []Rule{
		{
			Name:  VIP,
			Label: "VIP",
			Match: func(c models.Customer, _ time.Time) bool {
				_, ok := vip[normalizeCompany(c.Company)]
				return ok
			},
		},
		{
			Name:  HighValue,
			Label: "High-Value",
			Match: func(c models.Customer, _ time.Time) bool {
				return industry != models.IndustryUnspecified && c.Industry == industry
			},
		},
		{
			Name:  GrowthPotential,
			Label: "Growth-Potential",
			Match: func(c models.Customer, at time.Time) bool {
				age := at.Sub(c.AddedAt)
				return age >= 0 && age <= window
			},
		},
	}
}

func normalizeCompany(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func companySet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = normalizeCompany(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Engine evaluates a fixed rule table.
type Engine struct {
	rules []Rule
	now   func() time.Time
}

type Option func(*Engine)

// WithClock sets the time source used by Evaluate and Tags.
func WithClock(now func() time.Time) Option {
	return func(en *Engine) {
		en.now = now
	}
}

// NewEngine validates the rule table. Rule names must be non-empty and unique.
func NewEngine(rules []Rule, opts ...Option) (*Engine, error) {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if r.Name == "" || r.Match == nil {
			return nil, fmt.Errorf("%w: segment rule needs a name and a predicate", e.ErrInvalidInput)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate segment %q", e.ErrInvalidInput, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	en := &Engine{rules: append([]Rule(nil), rules...), now: time.Now}
	for _, opt := range opts {
		opt(en)
	}
	return en, nil
}

// Rules returns the rule table in evaluation order.
func (en *Engine) Rules() []Rule {
	return append([]Rule(nil), en.rules...)
}

// Evaluate computes membership at the engine's current time.
func (en *Engine) Evaluate(customers []models.Customer) map[string][]models.Customer {
	return en.EvaluateAt(customers, en.now())
}

// EvaluateAt maps every rule name to the customers matching it at time at,
// in input order. Every rule has an entry, empty when nothing matches.
func (en *Engine) EvaluateAt(customers []models.Customer, at time.Time) map[string][]models.Customer {
	out := make(map[string][]models.Customer, len(en.rules))
	for _, r := range en.rules {
		members := make([]models.Customer, 0)
		for _, c := range customers {
			if r.Match(c, at) {
				members = append(members, c)
			}
		}
		out[r.Name] = members
	}
	return out
}

// Tags lists the names of the segments c belongs to at time at, in rule order.
func (en *Engine) Tags(c models.Customer, at time.Time) []string {
	tags := make([]string, 0, len(en.rules))
	for _, r := range en.rules {
		if r.Match(c, at) {
			tags = append(tags, r.Name)
		}
	}
	return tags
}

// Matcher returns the predicate of the named rule evaluated at the engine's
// current time, or false when no such rule exists.
func (en *Engine) Matcher(name string) (func(models.Customer) bool, bool) {
	for _, r := range en.rules {
		if r.Name == name {
			match := r.Match
			return func(c models.Customer) bool { return match(c, en.now()) }, true
		}
	}
	return nil, false
}
