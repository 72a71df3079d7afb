package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gartstein/crm/internal/crm/config"
	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/gartstein/crm/internal/crm/events"
	"github.com/gartstein/crm/internal/crm/export"
	"github.com/gartstein/crm/internal/crm/models"
	"github.com/gartstein/crm/internal/crm/query"
	"github.com/gartstein/crm/internal/crm/snapshot"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	configPath string
	// logger overrides the one built from LOG_LEVEL.
	logger *zap.Logger
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	c := &cli{logger: logger}

	root := &cobra.Command{
		Use:           "crm",
		Short:         "Manage a local customer list",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		c.addCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.getCmd(),
		c.listCmd(),
		c.segmentsCmd(),
		c.statsCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.tailEventsCmd(),
	)
	return root
}

// withApp loads the config, builds the app for one command and tears it down
// afterwards.
func (c *cli) withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}

		logger := c.logger
		if logger == nil {
			logger, err = initLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		return fn(cmd, a, args)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid customer id %q", e.ErrInvalidInput, s)
	}
	return id, nil
}

func parseIndustry(s string) (models.Industry, error) {
	industry, ok := models.ParseIndustry(s)
	if !ok {
		return "", fmt.Errorf("%w: unknown industry %q", e.ErrInvalidInput, s)
	}
	return industry, nil
}

func parseStatus(s string) (models.Status, error) {
	status, ok := models.ParseStatus(s)
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", e.ErrInvalidInput, s)
	}
	return status, nil
}

func (c *cli) addCmd() *cobra.Command {
	var in models.NewCustomer
	var industry, status string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a customer",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			var err error
			if in.Industry, err = parseIndustry(industry); err != nil {
				return err
			}
			if status != "" {
				if in.Status, err = parseStatus(status); err != nil {
					return err
				}
			}

			created, err := a.service.CreateCustomer(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added customer %d\n", created.ID)
			return printCards(cmd.OutOrStdout(), a, []models.Customer{created})
		}),
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "customer name (required)")
	cmd.Flags().StringVar(&in.Email, "email", "", "unique email address (required)")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&in.Company, "company", "", "company name")
	cmd.Flags().StringVar(&industry, "industry", "", "one of "+industryChoices())
	cmd.Flags().StringVar(&status, "status", "", "active or inactive (default active)")
	return cmd
}

func (c *cli) updateCmd() *cobra.Command {
	var name, email, phone, company, industry, status string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a customer",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			update := models.CustomerUpdate{ID: id}
			flags := cmd.Flags()
			if flags.Changed("name") {
				update.Name = &name
			}
			if flags.Changed("email") {
				update.Email = &email
			}
			if flags.Changed("phone") {
				update.Phone = &phone
			}
			if flags.Changed("company") {
				update.Company = &company
			}
			if flags.Changed("industry") {
				v, err := parseIndustry(industry)
				if err != nil {
					return err
				}
				update.Industry = &v
			}
			if flags.Changed("status") {
				v, err := parseStatus(status)
				if err != nil {
					return err
				}
				update.Status = &v
			}
			if update.Empty() {
				return fmt.Errorf("%w: nothing to update", e.ErrInvalidInput)
			}

			updated, err := a.service.UpdateCustomer(cmd.Context(), update)
			if err != nil {
				return err
			}
			return printCards(cmd.OutOrStdout(), a, []models.Customer{updated})
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&email, "email", "", "new email address")
	cmd.Flags().StringVar(&phone, "phone", "", "new phone number")
	cmd.Flags().StringVar(&company, "company", "", "new company name")
	cmd.Flags().StringVar(&industry, "industry", "", "new industry, \"\" to clear")
	cmd.Flags().StringVar(&status, "status", "", "active or inactive")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID [ID...]",
		Short: "Delete one or more customers; nothing is deleted if any id is unknown",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			var removed []models.Customer
			if len(ids) == 1 {
				one, err := a.service.DeleteCustomer(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				removed = []models.Customer{one}
			} else {
				var err error
				if removed, err = a.service.DeleteCustomers(cmd.Context(), ids); err != nil {
					return err
				}
			}

			for _, r := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted customer %d (%s)\n", r.ID, r.Name)
			}
			return nil
		}),
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one customer",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			customer, err := a.service.GetCustomer(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printCards(cmd.OutOrStdout(), a, []models.Customer{customer})
		}),
	}
}

func (c *cli) listCmd() *cobra.Command {
	var opts query.Options
	var sortKey, view string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List customers with optional search, filters and sorting",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			opts.SortKey = query.SortKey(sortKey)
			opts.ViewMode = query.ViewMode(view)

			customers, err := query.Apply(a.service.ListCustomers(cmd.Context()), opts)
			if err != nil {
				return err
			}
			if len(customers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No customers found")
				return nil
			}
			if opts.ViewMode == query.ViewCards {
				return printCards(cmd.OutOrStdout(), a, customers)
			}
			return printTable(cmd.OutOrStdout(), a, customers)
		}),
	}
	cmd.Flags().StringVarP(&opts.SearchTerm, "search", "s", "", "match name, email or company, ignoring case")
	cmd.Flags().StringVar(&opts.IndustryFilter, "industry", query.AllValue, "industry, "+models.UnspecifiedLabel+" or "+query.AllValue)
	cmd.Flags().StringVar(&opts.StatusFilter, "status", query.AllValue, "active, inactive or "+query.AllValue)
	cmd.Flags().StringVar(&sortKey, "sort", "", "one of "+sortChoices()+" (default insertion order)")
	cmd.Flags().StringVar(&view, "view", string(query.ViewTable), "table or cards")
	return cmd
}

func (c *cli) segmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segments",
		Short: "Show segment membership",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			members := a.engine.Evaluate(a.service.ListCustomers(cmd.Context()))
			return printSegments(cmd.OutOrStdout(), a, members)
		}),
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show summary counts, industry distribution and growth",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			customers := a.service.ListCustomers(cmd.Context())
			return printStats(cmd.OutOrStdout(),
				a.aggregator.Summary(customers),
				a.aggregator.IndustryDistribution(customers),
				a.aggregator.GrowthTimeline(customers),
			)
		}),
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all customers as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			customers := a.service.ListCustomers(cmd.Context())

			var data string
			var err error
			switch strings.ToLower(format) {
			case "csv":
				data, err = export.ToCSV(customers)
			case "json":
				data, err = export.ToJSON(customers)
			default:
				return fmt.Errorf("%w: unknown format %q", e.ErrInvalidInput, format)
			}
			if err != nil {
				return err
			}

			if out == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), data)
				return err
			}
			if err := os.WriteFile(out, []byte(data), 0o644); err != nil {
				return fmt.Errorf("write export %s: %w", out, err)
			}
			a.logger.Info("Exported customers",
				zap.String("path", out),
				zap.String("format", format),
				zap.Int("count", len(customers)),
			)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Replace all customers with a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(cmd *cobra.Command, a *app, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import %s: %w", args[0], err)
			}
			customers, err := snapshot.Decode(data)
			if err != nil {
				return fmt.Errorf("%w: %w", e.ErrInvalidInput, err)
			}
			if err := a.service.ImportCustomers(cmd.Context(), customers); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d customers\n", len(customers))
			return nil
		}),
	}
}

func (c *cli) tailEventsCmd() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "tail-events",
		Short: "Print customer change events from Kafka until interrupted",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if len(a.cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("%w: KAFKA_BROKERS is not configured", e.ErrInvalidInput)
			}

			consumer := events.NewConsumer(a.cfg.KafkaBrokers, group, a.cfg.Topic, a.logger)
			defer consumer.Close()

			out := cmd.OutOrStdout()
			consumer.RegisterHandler(func(_ context.Context, ev events.Event) error {
				ids := make([]string, 0, len(ev.Customers))
				for _, cu := range ev.Customers {
					ids = append(ids, strconv.FormatInt(cu.ID, 10))
				}
				_, err := fmt.Fprintf(out, "%s\t%s\t%s\n",
					ev.OccurredAt.In(a.loc).Format(time.RFC3339), ev.Type, strings.Join(ids, ","))
				return err
			})

			a.logger.Info("Tailing customer events", zap.String("topic", a.cfg.Topic), zap.String("group", group))
			consumer.Run(cmd.Context())
			a.logger.Info("Stopped tailing customer events")
			return nil
		}),
	}
	cmd.Flags().StringVar(&group, "group", "crm-cli", "Kafka consumer group")
	return cmd
}
