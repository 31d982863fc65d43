package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"revdash/internal/backend"
	"revdash/internal/config"
	"revdash/internal/core"
	"revdash/internal/log"
	"revdash/internal/report"
	"revdash/internal/services"
)

// BackendOpener creates the invoice backend a report reads from.
type BackendOpener func(ctx context.Context) (*backend.Result, error)

// NewReportCmd builds the revdash-report command tree.
func NewReportCmd(open BackendOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "revdash-report",
		Short:         "Print invoice revenue in the terminal",
		Long:          "revdash-report aggregates invoices from the configured backend into a revenue series and prints it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newSeriesCmd(open))
	cmd.AddCommand(newInvoicesCmd(open))
	cmd.AddCommand(newProductsCmd(open))
	return cmd
}

func newSeriesCmd(open BackendOpener) *cobra.Command {
	var (
		granularity string
		selectKey   string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "series",
		Short: "Print the revenue series",
		Long:  "Aggregate every invoice into daily, weekly or monthly buckets. With --select, print the invoices of one bucket.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := core.ParseGranularity(granularity)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			res, err := open(ctx)
			if err != nil {
				return fmt.Errorf("open backend: %w", err)
			}
			defer res.Close()

			dash, err := services.NewDashboard(services.Deps{
				Source: res.Source,
				Lister: res.Lister,
				Logger: reportLogger(cmd),
			}, services.DashboardConfig{Granularity: g})
			if err != nil {
				return err
			}
			view, err := dash.Load(ctx)
			if err != nil {
				return err
			}

			if selectKey != "" {
				key, err := parseDay(selectKey)
				if err != nil {
					return err
				}
				if _, err := dash.Select(ctx, key); err != nil {
					return err
				}
				if !dash.View().Zoomed {
					fmt.Fprintf(cmd.OutOrStdout(), "Bucket %s has no invoices.\n", selectKey)
					return nil
				}
				detail, err := dash.Detail(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.RenderDetail(detail))
				return nil
			}

			if jsonOutput {
				return renderSeriesJSON(cmd, view.Series)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderSeries(view.Series))
			return nil
		},
	}

	cmd.Flags().StringVarP(&granularity, "granularity", "g", string(core.Weekly), "daily, weekly or monthly")
	cmd.Flags().StringVar(&selectKey, "select", "", "bucket start (YYYY-MM-DD) to print in detail")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newInvoicesCmd(open BackendOpener) *cobra.Command {
	var page, perPage int

	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "List invoices, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 || perPage < 1 {
				return fmt.Errorf("page and per-page must be positive")
			}

			ctx := cmd.Context()
			res, err := open(ctx)
			if err != nil {
				return fmt.Errorf("open backend: %w", err)
			}
			defer res.Close()

			dash, err := services.NewDashboard(services.Deps{
				Source: res.Source,
				Lister: res.Lister,
				Logger: reportLogger(cmd),
			}, services.DashboardConfig{})
			if err != nil {
				return err
			}
			items, total, err := dash.ListInvoices(ctx, page, perPage)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderPage(items, page, perPage, total))
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "invoices per page")
	return cmd
}

func newProductsCmd(open BackendOpener) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "products [query]",
		Short: "Search the product catalogue by name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query string
			if len(args) == 1 {
				query = args[0]
			}

			ctx := cmd.Context()
			res, err := open(ctx)
			if err != nil {
				return fmt.Errorf("open backend: %w", err)
			}
			defer res.Close()

			dash, err := services.NewDashboard(services.Deps{
				Source:  res.Source,
				Catalog: res.Products,
				Logger:  reportLogger(cmd),
			}, services.DashboardConfig{})
			if err != nil {
				return err
			}
			products, err := dash.SearchProducts(ctx, query, limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderProducts(products))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", services.DefaultProductLimit, "maximum number of products")
	return cmd
}

type seriesBucket struct {
	Key          string `json:"key"`
	Revenue      string `json:"revenue"`
	InvoiceCount int    `json:"invoice_count"`
}

func renderSeriesJSON(cmd *cobra.Command, s *core.Series) error {
	out := struct {
		Granularity string         `json:"granularity"`
		Total       string         `json:"total"`
		Buckets     []seriesBucket `json:"buckets"`
	}{
		Granularity: s.Granularity().String(),
		Total:       core.FormatAmount(s.Total()),
		Buckets:     []seriesBucket{},
	}
	for _, b := range s.Buckets() {
		out.Buckets = append(out.Buckets, seriesBucket{
			Key:          b.Start.Format(time.DateOnly),
			Revenue:      core.FormatAmount(b.Revenue),
			InvoiceCount: len(b.Invoices),
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid bucket %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// ConfiguredBackend opens the backend selected by cfg.
func ConfiguredBackend(cfg *config.Config, logger *log.Logger) BackendOpener {
	return func(ctx context.Context) (*backend.Result, error) {
		bcfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return nil, err
		}
		return backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	}
}

// reportLogger keeps library logging off stdout so it never mixes with
// the report itself.
func reportLogger(cmd *cobra.Command) *log.Logger {
	return log.New(log.Config{
		Level:     slog.LevelWarn,
		Component: log.ComponentReport,
		Output:    cmd.ErrOrStderr(),
	})
}
