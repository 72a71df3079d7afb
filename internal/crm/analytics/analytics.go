// Package analytics derives summary statistics from a snapshot of customers.
// Calendar days are evaluated in the aggregator's location.
package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/gartstein/crm/internal/crm/models"
	"golang.org/x/text/cases"
)

type Summary struct {
	Total             int `json:"total"`
	DistinctCompanies int `json:"distinct_companies"`
	AddedToday        int `json:"added_today"`
	VIP               int `json:"vip"`
}

// TimelinePoint is one calendar day of the growth timeline.
type TimelinePoint struct {
	// Date is midnight of the day in the aggregator's location.
	Date time.Time `json:"date"`
	// Added counts customers added on Date.
	Added int `json:"added"`
	// Cumulative counts customers added on or before Date.
	Cumulative int `json:"cumulative"`
}

type Aggregator struct {
	vip func(models.Customer) bool
	loc *time.Location
	now func() time.Time
}

type Option func(*Aggregator)

func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		a.loc = loc
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator returns an Aggregator counting VIPs with vip. A nil vip
// predicate counts no VIPs.
func NewAggregator(vip func(models.Customer) bool, opts ...Option) *Aggregator {
	if vip == nil {
		vip = func(models.Customer) bool { return false }
	}
	a := &Aggregator{vip: vip, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) day(t time.Time) time.Time {
	y, m, d := t.In(a.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.loc)
}

// Summary counts totals in a single pass. Companies are compared after
// trimming and case folding; empty companies are not counted.
func (a *Aggregator) Summary(customers []models.Customer) Summary {
	today := a.day(a.now())
	caser := cases.Fold()
	companies := make(map[string]struct{})

	s := Summary{Total: len(customers)}
	for _, c := range customers {
		if company := strings.TrimSpace(c.Company); company != "" {
			companies[caser.String(company)] = struct{}{}
		}
		if a.day(c.AddedAt).Equal(today) {
			s.AddedToday++
		}
		if a.vip(c) {
			s.VIP++
		}
	}
	s.DistinctCompanies = len(companies)
	return s
}

// IndustryDistribution counts customers per industry label. Every known
// industry and models.UnspecifiedLabel are present, zero or not.
func (a *Aggregator) IndustryDistribution(customers []models.Customer) map[string]int {
	dist := make(map[string]int, len(models.Industries())+1)
	for _, industry := range models.Industries() {
		dist[industry.Label()] = 0
	}
	dist[models.UnspecifiedLabel] = 0

	for _, c := range customers {
		dist[c.Industry.Label()]++
	}
	return dist
}

// GrowthTimeline groups customers by the calendar day of AddedAt and returns
// the days in ascending order with a running total.
func (a *Aggregator) GrowthTimeline(customers []models.Customer) []TimelinePoint {
	perDay := make(map[time.Time]int)
	for _, c := range customers {
		perDay[a.day(c.AddedAt)]++
	}

	days := make([]time.Time, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	timeline := make([]TimelinePoint, 0, len(days))
	running := 0
	for _, d := range days {
		running += perDay[d]
		timeline = append(timeline, TimelinePoint{Date: d, Added: perDay[d], Cumulative: running})
	}
	return timeline
}
