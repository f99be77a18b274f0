// Command skumatch indexes a catalog and matches RFQ line items offline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/batch"
	"github.com/WessleyAI/skumatch/engine/catalog"
	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/engine/events"
	"github.com/WessleyAI/skumatch/engine/export"
	"github.com/WessleyAI/skumatch/engine/service"
	"github.com/WessleyAI/skumatch/pkg/config"
	"github.com/WessleyAI/skumatch/pkg/logger"
	"github.com/WessleyAI/skumatch/pkg/schema"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitError      = 1
	exitValidation = 2
	exitEmbedding  = 3
	exitPartial    = 4
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
}

type globalFlags struct {
	configFile string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "skumatch",
		Short:         "Match RFQ line items to catalog SKUs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level")

	root.AddCommand(newIndexCommand(&g))
	root.AddCommand(newMatchCommand(&g))
	root.AddCommand(newEventsCommand(&g))
	root.AddCommand(newVersionCommand())
	return root
}

func loadConfig(g *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(config.Options{ConfigFile: g.configFile})
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// open loads configuration and assembles the engine.
func open(g *globalFlags) (*service.Service, *zap.Logger, error) {
	cfg, log, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.New(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return svc, log, nil
}

func indexCatalog(ctx context.Context, svc *service.Service, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := svc.IndexCSV(ctx, f)
	if err != nil {
		return 0, classify(fmt.Errorf("index %s: %w", path, err))
	}
	return info.ProductsCount, nil
}

func newIndexCommand(g *globalFlags) *cobra.Command {
	var catalogPath string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Validate, embed and index a catalog CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dryRun {
				return validateCatalog(cmd.OutOrStdout(), catalogPath)
			}
			svc, _, err := open(g)
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := indexCatalog(cmd.Context(), svc, catalogPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d products from %s\n", n, catalogPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog CSV file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only, without embedding")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}

func validateCatalog(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	t, err := catalog.ReadCSV(f)
	if err != nil {
		return classify(fmt.Errorf("validate %s: %w", path, err))
	}
	n, err := catalog.Validate(t)
	if err != nil {
		return classify(fmt.Errorf("validate %s: %w", path, err))
	}
	fmt.Fprintf(out, "%s: %d valid products\n", path, n)
	return nil
}

func newMatchCommand(g *globalFlags) *cobra.Command {
	var catalogPath, itemsPath, format, rfqID string
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Index a catalog and match RFQ line items against it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "csv" {
				return cliError{code: exitValidation, err: fmt.Errorf("unknown --format %q: want json or csv", format)}
			}
			req, err := readItems(itemsPath)
			if err != nil {
				return classify(err)
			}
			if rfqID != "" {
				req.RFQID = rfqID
			}

			svc, log, err := open(g)
			if err != nil {
				return err
			}
			defer svc.Close()

			if _, err := indexCatalog(cmd.Context(), svc, catalogPath); err != nil {
				return err
			}
			res, err := svc.Batch.Run(cmd.Context(), req)
			if err != nil {
				return classify(err)
			}
			log.Info(res.Message, zap.String("status", string(res.Status)))

			if err := writeResult(cmd.OutOrStdout(), format, res); err != nil {
				return err
			}
			if res.Failed > 0 {
				return cliError{code: exitPartial, err: fmt.Errorf("%s: %s", res.Status, res.Message)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog CSV file")
	cmd.Flags().StringVar(&itemsPath, "items", "", "line items as .json ({rfq_id, line_items}) or .csv")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	cmd.Flags().StringVar(&rfqID, "rfq-id", "", "batch rfq_id, overrides the file")
	_ = cmd.MarkFlagRequired("catalog")
	_ = cmd.MarkFlagRequired("items")
	return cmd
}

func readItems(path string) (batch.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return batch.Request{}, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		items, err := export.ReadItemsCSV(f)
		if err != nil {
			return batch.Request{}, fmt.Errorf("read %s: %w", path, err)
		}
		return batch.Request{Items: items}, nil
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return batch.Request{}, err
	}
	violations, err := schema.Validate(schema.MatchRequest, raw)
	if err != nil {
		return batch.Request{}, domain.NewValidationError(path, "", err)
	}
	if len(violations) > 0 {
		return batch.Request{}, domain.NewValidationError(path, strings.Join(violations, "; "), errInvalidItems)
	}
	var req batch.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return batch.Request{}, domain.NewValidationError(path, "", err)
	}
	return req, nil
}

var errInvalidItems = errors.New("invalid line items document")

func writeResult(w io.Writer, format string, res batch.Result) error {
	if format == "csv" {
		return export.WriteCSV(w, res.Items)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// classify maps engine errors to exit codes.
func classify(err error) error {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindNotReady:
		return cliError{code: exitValidation, err: err}
	case domain.KindEmbedding, domain.KindSearch:
		return cliError{code: exitEmbedding, err: err}
	default:
		return err
	}
}

func newEventsCommand(g *globalFlags) *cobra.Command {
	var natsURL string
	var count int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print catalog and RFQ events from NATS as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			if natsURL == "" {
				natsURL = cfg.NATS.URL
			}
			if natsURL == "" {
				return cliError{code: exitValidation, err: errors.New("no NATS server: set nats.url or --nats-url")}
			}
			return tailEvents(cmd.Context(), cmd.OutOrStdout(), natsURL, count, log)
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server, overrides nats.url")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events; 0 runs until interrupted")
	return cmd
}

func tailEvents(ctx context.Context, out io.Writer, url string, count int, log *zap.Logger) error {
	nc, err := nats.Connect(url, nats.Name("skumatch-events"))
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer nc.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	received := make(chan events.Received, 64)
	subs, err := events.Subscribe(nc, func(_ context.Context, e events.Received) {
		select {
		case received <- e:
		case <-ctx.Done():
		}
	}, log)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info("listening for events", zap.String("url", url))

	enc := json.NewEncoder(out)
	for n := 0; count <= 0 || n < count; n++ {
		select {
		case <-ctx.Done():
			return nil
		case e := <-received:
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "skumatch %s\n", version)
			return nil
		},
	}
}
