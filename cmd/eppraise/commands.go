package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/app"
	"github.com/eppraise/eppraise/internal/config"
	"github.com/eppraise/eppraise/internal/logger"
	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/sheet"
)

// globalOptions override the environment configuration when set.
type globalOptions struct {
	Store      string `long:"store" description:"Record store provider JSON, e.g. {\"db_type\":\"sqlite\",\"extra_details\":{\"path\":\"eppraise.db\"}}"`
	EbayConfig string `short:"c" long:"ebay-config" description:"YAML file with the eBay application id"`
	LogLevel   string `long:"log-level" description:"Log level (debug, info, warn, error)"`
}

func (o *globalOptions) apply(cfg *config.Config) {
	if o.Store != "" {
		cfg.StoreConfig = o.Store
	}
	if o.EbayConfig != "" {
		cfg.EbayConfigPath = o.EbayConfig
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

// env is what every command runs against.
type env struct {
	opts *globalOptions
	out  io.Writer
}

// open loads configuration, builds the logger and the application. The
// caller closes the returned app.
func (e *env) open() (*app.App, *zap.Logger, error) {
	initialLogger, err := logger.NewLogger("production", "warn")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg := config.Load(initialLogger)
	e.opts.apply(cfg)

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	appLogger.Debug("build info",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	a, err := app.NewApp(cfg, appLogger)
	if err != nil {
		return nil, nil, err
	}
	return a, appLogger, nil
}

// with runs fn against a freshly opened app, closing it afterwards.
func (e *env) with(fn func(ctx context.Context, a *app.App) error) error {
	a, log, err := e.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close app", zap.Error(err))
		}
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type xlsxCommand struct {
	*env `no-flag:"true"`
	File        string `short:"f" long:"file" required:"true" description:"Input spreadsheet"`
	InputRange  string `short:"i" long:"input-range" required:"true" description:"Range of keyword cells, one per cell"`
	OutputRange string `short:"o" long:"output-range" description:"Range for estimates, same size as the input range; without it the input cells are imported as watches"`
}

func (c *xlsxCommand) Execute([]string) error {
	return c.with(func(ctx context.Context, a *app.App) error {
		if c.OutputRange == "" {
			views, err := a.Service().ImportSheet(ctx, c.File, c.InputRange)
			if err != nil {
				return err
			}
			records := make([]model.Record, len(views))
			for i, v := range views {
				records[i] = model.SerializeWatch(v)
			}
			return c.print(records)
		}

		estimates, err := a.Service().ExportSheet(ctx, c.File, c.InputRange, c.OutputRange)
		if err != nil {
			return err
		}
		cells, err := sheet.Cells(c.OutputRange)
		if err != nil {
			return err
		}
		out := make(map[string]*float64, len(cells))
		for i, cell := range cells {
			out[cell] = estimates[i]
		}
		return c.print(out)
	})
}

type watchCommand struct {
	*env `no-flag:"true"`
	Enable  bool `long:"enable" description:"Enable the watch"`
	Disable bool `long:"disable" description:"Disable the watch"`
	Args    struct {
		Keywords []string `positional-arg-name:"keywords" required:"1"`
	} `positional-args:"yes"`
}

func (c *watchCommand) Execute([]string) error {
	if c.Enable && c.Disable {
		return errors.New("--enable and --disable are mutually exclusive")
	}
	var enabled *bool
	switch {
	case c.Enable:
		on := true
		enabled = &on
	case c.Disable:
		off := false
		enabled = &off
	}

	return c.with(func(ctx context.Context, a *app.App) error {
		view, err := a.Service().SaveWatch(ctx, strings.Join(c.Args.Keywords, " "), enabled)
		if err != nil {
			return err
		}
		return c.print(model.SerializeWatch(view))
	})
}

type updateCommand struct {
	*env `no-flag:"true"`
}

func (c *updateCommand) Execute([]string) error {
	return c.with(func(ctx context.Context, a *app.App) error {
		report, err := a.Service().Update(ctx)
		if err != nil {
			return err
		}
		return c.print(report)
	})
}

type itemCommand struct {
	*env `no-flag:"true"`
}

func (c *itemCommand) Execute([]string) error {
	return c.with(func(ctx context.Context, a *app.App) error {
		items, err := a.Service().Items(ctx)
		if err != nil {
			return err
		}
		records := make([]model.Record, len(items))
		for i, item := range items {
			rec := model.SerializeItem(item)
			records[i] = append(rec, model.Field{Name: "watches", Value: item.WatchIDs})
		}
		return c.print(records)
	})
}

type serveCommand struct {
	*env `no-flag:"true"`
}

func (c *serveCommand) Execute([]string) error {
	a, log, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close app", zap.Error(err))
		}
		_ = log.Sync()
	}()
	return a.Run()
}

func newParser(out io.Writer) *flags.Parser {
	opts := &globalOptions{}
	e := &env{opts: opts, out: out}
	parser := flags.NewParser(opts, flags.Default)

	commands := []struct {
		name, short, long string
		data              any
	}{
		{"xlsx", "Import watches from or write estimates to a spreadsheet",
			"Reads keywords from --input-range. With --output-range, searches each cell and writes the mean sold price to the parallel output cell; otherwise creates a watch per cell.",
			&xlsxCommand{env: e}},
		{"watch", "Create, enable or disable a watch",
			"Creates the watch for the given keywords, or updates the existing one, and prints it as JSON.",
			&watchCommand{env: e}},
		{"update", "Run one update pass over the enabled watches",
			"Searches every enabled watch and records new sold items.",
			&updateCommand{env: e}},
		{"item", "Print every stored item as JSON",
			"Prints every stored item with the ids of the watches that found it.",
			&itemCommand{env: e}},
		{"serve", "Serve the JSON API and run periodic updates",
			"Starts the HTTP server and an update pass every UPDATE_INTERVAL until interrupted.",
			&serveCommand{env: e}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			panic(err)
		}
	}
	return parser
}
