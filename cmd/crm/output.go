package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gartstein/crm/internal/crm/analytics"
	"github.com/gartstein/crm/internal/crm/models"
	"github.com/gartstein/crm/internal/crm/query"
)

const dateLayout = "2006-01-02"

func industryChoices() string {
	names := make([]string, 0, len(models.Industries()))
	for _, industry := range models.Industries() {
		names = append(names, string(industry))
	}
	return strings.Join(names, ", ")
}

func sortChoices() string {
	keys := make([]string, 0, len(query.SortKeys()))
	for _, key := range query.SortKeys() {
		keys = append(keys, string(key))
	}
	return strings.Join(keys, ", ")
}

// segmentLabels returns the display labels of the segments c belongs to now.
func segmentLabels(a *app, c models.Customer, now time.Time) string {
	labels := make(map[string]string)
	for _, r := range a.engine.Rules() {
		labels[r.Name] = r.Label
	}
	tags := a.engine.Tags(c, now)
	for i, tag := range tags {
		tags[i] = labels[tag]
	}
	return strings.Join(tags, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printTable(w io.Writer, a *app, customers []models.Customer) error {
	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tPHONE\tCOMPANY\tINDUSTRY\tSTATUS\tADDED\tSEGMENTS")
	for _, c := range customers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.Email, orDash(c.Phone), orDash(c.Company),
			c.Industry.Label(), c.Status, c.AddedAt.In(a.loc).Format(dateLayout),
			orDash(segmentLabels(a, c, now)),
		)
	}
	return tw.Flush()
}

func printCards(w io.Writer, a *app, customers []models.Customer) error {
	now := time.Now()
	for i, c := range customers {
		if i > 0 {
			fmt.Fprintln(w)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
		fmt.Fprintf(tw, "#%d\t%s\n", c.ID, c.Name)
		fmt.Fprintf(tw, "Email:\t%s\n", c.Email)
		fmt.Fprintf(tw, "Phone:\t%s\n", orDash(c.Phone))
		fmt.Fprintf(tw, "Company:\t%s\n", orDash(c.Company))
		fmt.Fprintf(tw, "Industry:\t%s\n", c.Industry.Label())
		fmt.Fprintf(tw, "Status:\t%s\n", c.Status)
		fmt.Fprintf(tw, "Added:\t%s\n", c.AddedAt.In(a.loc).Format(time.RFC3339))
		if c.UpdatedAt != nil {
			fmt.Fprintf(tw, "Updated:\t%s\n", c.UpdatedAt.In(a.loc).Format(time.RFC3339))
		}
		fmt.Fprintf(tw, "Segments:\t%s\n", orDash(segmentLabels(a, c, now)))
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func printSegments(w io.Writer, a *app, members map[string][]models.Customer) error {
	for i, r := range a.engine.Rules() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%d)\n", r.Label, len(members[r.Name]))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range members[r.Name] {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", c.ID, c.Name, c.Email, orDash(c.Company))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func printStats(w io.Writer, s analytics.Summary, dist map[string]int, timeline []analytics.TimelinePoint) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total customers:\t%d\n", s.Total)
	fmt.Fprintf(tw, "Companies:\t%d\n", s.DistinctCompanies)
	fmt.Fprintf(tw, "Added today:\t%d\n", s.AddedToday)
	fmt.Fprintf(tw, "VIP customers:\t%d\n", s.VIP)

	fmt.Fprintln(tw, "\nIndustry\tCount")
	for _, industry := range models.Industries() {
		fmt.Fprintf(tw, "%s\t%d\n", industry.Label(), dist[industry.Label()])
	}
	fmt.Fprintf(tw, "%s\t%d\n", models.UnspecifiedLabel, dist[models.UnspecifiedLabel])

	if len(timeline) > 0 {
		fmt.Fprintln(tw, "\nDate\tAdded\tTotal")
		for _, p := range timeline {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", p.Date.Format(dateLayout), p.Added, p.Cumulative)
		}
	}
	return tw.Flush()
}
