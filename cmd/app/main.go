package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/a11yledger/internal"
	pkgconfig "github.com/starford/a11yledger/pkg/config"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file (.yaml, .json or .jsonc)",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}
}

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func textLogger(w io.Writer, cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
}

func runIngest(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if dir := cmd.Args().First(); dir != "" {
		cfg.Reports.Path = dir
	}
	if policy := cmd.String("on-invalid"); policy != "" {
		cfg.Ingest.OnInvalid = policy
		if err := cfg.Ingest.Validate(); err != nil {
			return fmt.Errorf("invalid --on-invalid: %w", err)
		}
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithLogger(textLogger(os.Stderr, cfg)),
		internal.WithForce(cmd.Bool("force")),
	}
	if cmd.Args().Len() > 1 {
		opts = append(opts, internal.WithPaths(cmd.Args().Tail()...))
	}

	sum, err := internal.Ingest(ctx, opts...)
	if sum != nil {
		fmt.Fprint(os.Stdout, summaryTable(sum))
		if len(sum.Rejections) > 0 {
			fmt.Fprint(os.Stdout, rejectionTable(sum.Rejections))
		}
	}
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

func runRender(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v := cmd.String("order-by"); v != "" {
		cfg.Output.OrderBy = v
	}
	if v := cmd.String("format"); v != "" {
		cfg.Output.Format = v
	}
	if v := cmd.String("out"); v != "" {
		cfg.Output.Path = v
	}
	if err := cfg.Output.Validate(); err != nil {
		return fmt.Errorf("invalid output options: %w", err)
	}

	return internal.Render(ctx,
		internal.WithConfig(cfg),
		internal.WithLogger(textLogger(os.Stderr, cfg)),
		internal.WithOutput(os.Stdout),
	)
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithWatch(cmd.Bool("watch"))); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
	return internal.ServeMCP(ctx, internal.WithConfig(cfg), internal.WithLogger(logger))
}

func main() {
	cmd := &cli.Command{
		Name:  "a11yledger",
		Usage: "Normalize, deduplicate and aggregate accessibility defect reports",
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest a directory of defect reports into the canonical store",
				ArgsUsage: "[dir] [report paths...]",
				Action:    runIngest,
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "force", Usage: "Re-ingest files whose content is unchanged"},
					&cli.StringFlag{Name: "on-invalid", Usage: "Invalid record policy: skip or abortBatch"},
				},
			},
			{
				Name:   "render",
				Usage:  "Render the canonical defect document",
				Action: runRender,
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "order-by", Usage: "Section order: page, priority or first-seen"},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Output format: markdown, json or terminal"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the document to this file instead of stdout"},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and live events",
				Action: runServe,
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "watch", Usage: "Re-ingest report files as they change"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
				Flags:  []cli.Flag{configFlag()},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
