// ///////////////////////////////////////////////////////////////////////////
//
// # TableHash - Merkle digests for sorted tables
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package cli

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"github.com/pgedge/tablehash/internal/backend"
	"github.com/pgedge/tablehash/internal/consistency/mtree"
	"github.com/pgedge/tablehash/internal/metrics"
	"github.com/pgedge/tablehash/internal/scheduler"
	"github.com/pgedge/tablehash/internal/server"
	"github.com/pgedge/tablehash/internal/store"
	"github.com/pgedge/tablehash/pkg/common"
	"github.com/pgedge/tablehash/pkg/config"
	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/taskstore"
)

//go:embed default_config.yaml
var defaultConfigYAML string

func setLogLevel(ctx *cli.Context) error {
	switch {
	case ctx.Bool("debug"):
		logger.SetLevel(log.DebugLevel)
	case ctx.Bool("quiet"):
		logger.SetLevel(log.WarnLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return nil
}

func SetupCLI() *cli.App {
	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Aliases: []string{"s"},
			Usage:   "Store backend to use: postgres, bolt or memory (default: from config)",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Whether to suppress output",
			Value:   false,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"v"},
			Usage:   "Enable debug logging",
			Value:   false,
		},
		&cli.BoolFlag{
			Name:  "skip-db-update",
			Usage: "Do not record the task in the task store",
			Value: false,
		},
	}

	hashFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "hash",
			Aliases: []string{"a"},
			Usage:   "Digest algorithm, e.g. MD5 or SHA-256 (default: from config)",
		},
		&cli.BoolFlag{
			Name:  "skip-cover-check",
			Usage: "Trust leaf sets that do not cover the whole key space",
		},
	}

	runFlags := []cli.Flag{
		&cli.IntFlag{
			Name:    "num-threads",
			Aliases: []string{"t"},
			Usage:   "Number of ranges hashed concurrently (default: from config)",
		},
		&cli.StringFlag{
			Name:    "reference-table",
			Aliases: []string{"r"},
			Usage:   "Partition every input by the split points of this table",
		},
		&cli.BoolFlag{
			Name:    "progress",
			Aliases: []string{"p"},
			Usage:   "Show a progress bar while hashing",
		},
	}

	compareFlags := append([]cli.Flag{}, commonFlags...)
	compareFlags = append(compareFlags, hashFlags...)
	compareFlags = append(compareFlags, runFlags...)
	compareFlags = append(compareFlags,
		&cli.StringSliceFlag{
			Name:  "tables",
			Usage: "Comma-separated list of tables to compare",
		},
		&cli.StringFlag{
			Name:  "output-suffix",
			Usage: "Suffix appended to each table name to form its hash table (default: from config)",
		},
		&cli.BoolFlag{
			Name:  "cleanup",
			Usage: "Drop the hash tables once their root hashes are read",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: text or json",
			Value:   "text",
		},
		&cli.BoolFlag{
			Name:    "schedule",
			Aliases: []string{"S"},
			Usage:   "Repeat the comparison on a schedule",
		},
		&cli.StringFlag{
			Name:    "every",
			Aliases: []string{"e"},
			Usage:   "Interval between scheduled comparisons, e.g. 1h",
		},
	)

	generateFlags := append([]cli.Flag{}, commonFlags...)
	generateFlags = append(generateFlags, hashFlags...)
	generateFlags = append(generateFlags, runFlags...)
	generateFlags = append(generateFlags,
		&cli.StringFlag{
			Name:     "output",
			Aliases:  []string{"o"},
			Usage:    "Existing table that receives the leaf digests (required)",
			Required: true,
		},
	)

	readFlags := append([]cli.Flag{}, commonFlags...)
	readFlags = append(readFlags, hashFlags...)

	diffFlags := append([]cli.Flag{}, readFlags...)
	diffFlags = append(diffFlags,
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: text or json",
			Value:   "text",
		},
		&cli.StringFlag{
			Name:  "report-dir",
			Usage: "Also write JSON and HTML divergence reports into this directory",
		},
	)

	createTableFlags := append([]cli.Flag{}, commonFlags...)
	createTableFlags = append(createTableFlags,
		&cli.StringSliceFlag{
			Name:  "splits",
			Usage: "Split points to register for the new table (bolt and memory stores)",
		},
	)

	configInitFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "Where to write the config file",
			Value:   config.FileName,
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Overwrite an existing file",
		},
		&cli.BoolFlag{
			Name:  "stdout",
			Usage: "Print the config to stdout instead of writing a file",
		},
	}

	app := &cli.App{
		Name:  "tablehash",
		Usage: "Merkle digests for verifying replicas of sorted tables",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Manage tablehash configuration files",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Create a default tablehash.yaml file",
						Flags:  configInitFlags,
						Action: ConfigInitCLI,
					},
				},
			},
			{
				Name:      "compare",
				Usage:     "Hash each table and print its root hash",
				ArgsUsage: "[table ...]",
				Flags:     compareFlags,
				Before:    setLogLevel,
				Action:    CompareCLI,
			},
			{
				Name:      "generate",
				Usage:     "Write the leaf digests of a table into an existing output table",
				ArgsUsage: "<input>",
				Flags:     generateFlags,
				Before:    setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 1 {
						return fmt.Errorf("generate needs exactly one input table (usage: generate --output <table> <input>)")
					}
					return GenerateCLI(ctx)
				},
			},
			{
				Name:      "root-hash",
				Usage:     "Print the root hash of a table of leaf digests",
				ArgsUsage: "<table>",
				Flags:     readFlags,
				Before:    setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 1 {
						return fmt.Errorf("root-hash needs exactly one table")
					}
					return RootHashCLI(ctx)
				},
			},
			{
				Name:      "diff",
				Usage:     "List the key ranges where two tables of leaf digests disagree",
				ArgsUsage: "<left> <right>",
				Flags:     diffFlags,
				Before:    setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 2 {
						return fmt.Errorf("diff needs two tables (usage: <left> <right>)")
					}
					return DiffCLI(ctx)
				},
			},
			{
				Name:      "create-table",
				Usage:     "Create an empty table",
				ArgsUsage: "<table>",
				Flags:     createTableFlags,
				Before:    setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 1 {
						return fmt.Errorf("create-table needs exactly one table")
					}
					return CreateTableCLI(ctx)
				},
			},
			{
				Name:      "teardown",
				Usage:     "Drop a table of leaf digests and its metadata",
				ArgsUsage: "<table>",
				Flags:     commonFlags,
				Before:    setLogLevel,
				Action: func(ctx *cli.Context) error {
					if ctx.Args().Len() != 1 {
						return fmt.Errorf("teardown needs exactly one table")
					}
					return TeardownCLI(ctx)
				},
			},
			{
				Name:  "tasks",
				Usage: "List recently recorded tasks",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"l"},
						Usage:   "Maximum number of tasks to list",
						Value:   20,
					},
				},
				Action: TasksCLI,
			},
			{
				Name:  "start",
				Usage: "Start the scheduler for configured jobs and the API server",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "debug",
						Aliases: []string{"v"},
						Usage:   "Enable debug logging",
					},
					&cli.StringFlag{
						Name:    "component",
						Aliases: []string{"C"},
						Usage:   "Component to start: scheduler, api, or all",
						Value:   "all",
					},
				},
				Before: setLogLevel,
				Action: StartCLI,
			},
		},
	}

	return app
}

func initTemplateFile(ctx *cli.Context, content string, defaultPath string, label string, perm os.FileMode) error {
	outputPath := ctx.String("path")
	if outputPath == "" {
		outputPath = defaultPath
	}

	if ctx.Bool("stdout") || outputPath == "-" {
		fmt.Fprintln(ctx.App.Writer, content)
		return nil
	}

	if !ctx.Bool("force") {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("%s already exists at %s (use --force to overwrite)", label, outputPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to verify existing %s at %s: %w", label, outputPath, err)
		}
	}

	dir := filepath.Dir(outputPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", label, outputPath, err)
	}

	fmt.Fprintf(ctx.App.Writer, "Wrote %s to %s\n", label, outputPath)
	return nil
}

func ConfigInitCLI(ctx *cli.Context) error {
	return initTemplateFile(ctx, defaultConfigYAML, config.FileName, "config file", 0o644)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openEnv opens the configured backend, honouring a --store override.
func openEnv(runCtx context.Context, ctx *cli.Context) (*backend.Env, error) {
	cfg := *config.Get()
	if b := strings.TrimSpace(ctx.String("store")); b != "" {
		cfg.Store.Backend = strings.ToLower(b)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return backend.Open(runCtx, &cfg)
}

// newTask applies command line overrides on top of the configured
// defaults.
func newTask(runCtx context.Context, ctx *cli.Context, env *backend.Env) *mtree.MerkleTask {
	task := env.NewTask()
	task.Ctx = runCtx
	if a := strings.TrimSpace(ctx.String("hash")); a != "" {
		task.Algorithm = a
	}
	if ctx.IsSet("num-threads") {
		task.NumWorkers = ctx.Int("num-threads")
	}
	if ctx.IsSet("skip-cover-check") {
		task.SkipCoverCheck = ctx.Bool("skip-cover-check")
	}
	task.ReferenceTable = strings.TrimSpace(ctx.String("reference-table"))
	task.SkipDBUpdate = ctx.Bool("skip-db-update")

	var obs mtree.Observer = mtree.LogObserver{}
	if ctx.Bool("progress") && !ctx.Bool("quiet") {
		obs = mtree.MultiObserver{obs, mtree.NewProgressObserver(ctx.App.ErrWriter)}
	}
	task.Observer = obs
	return task
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func CompareCLI(ctx *cli.Context) error {
	tables := splitList(append(ctx.StringSlice("tables"), ctx.Args().Slice()...))
	if len(tables) == 0 {
		return fmt.Errorf("missing tables to compare (use --tables a,b or pass them as arguments)")
	}
	format := strings.ToLower(ctx.String("output"))
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid output format %q (expected text or json)", format)
	}

	runCtx, stop := signalContext()
	defer stop()

	env, err := openEnv(runCtx, ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	build := func(c context.Context) *mtree.MerkleTask {
		task := newTask(c, ctx, env)
		task.Tables = tables
		if s := strings.TrimSpace(ctx.String("output-suffix")); s != "" {
			task.OutputSuffix = s
		}
		task.Cleanup = ctx.Bool("cleanup")
		return task
	}

	if !ctx.Bool("schedule") {
		task := build(runCtx)
		if err := task.CompareTables(); err != nil {
			return fmt.Errorf("error during comparison: %w", err)
		}
		return printCompare(ctx.App.Writer, format, task)
	}

	freq, err := scheduler.ParseFrequency(ctx.String("every"))
	if err != nil {
		return err
	}
	job := scheduler.Job{
		Name:       "compare:" + strings.Join(tables, ","),
		Frequency:  freq,
		RunOnStart: true,
		Task: func(c context.Context) error {
			task := build(c)
			task.Cleanup = true
			if err := task.CompareTables(); err != nil {
				return fmt.Errorf("error during comparison: %w", err)
			}
			return printCompare(ctx.App.Writer, format, task)
		},
	}
	return scheduler.RunJobs(runCtx, []scheduler.Job{job})
}

func printCompare(w io.Writer, format string, task *mtree.MerkleTask) error {
	if format == "json" {
		return writeJSON(w, task.CompareResult)
	}
	for _, th := range task.CompareResult.Tables {
		if _, err := fmt.Fprintf(w, "%s %s\n", th.Table, th.Hash); err != nil {
			return err
		}
	}
	if !task.CompareResult.Match {
		logger.Warn("root hashes differ")
	}
	return nil
}

func GenerateCLI(ctx *cli.Context) error {
	runCtx, stop := signalContext()
	defer stop()

	env, err := openEnv(runCtx, ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	task := newTask(runCtx, ctx, env)
	task.Input = ctx.Args().First()
	task.Output = ctx.String("output")

	if err := task.GenerateHashes(); err != nil {
		return fmt.Errorf("error generating hashes for %s: %w", task.Input, err)
	}
	return nil
}

func RootHashCLI(ctx *cli.Context) error {
	runCtx, stop := signalContext()
	defer stop()

	env, err := openEnv(runCtx, ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	task := newTask(runCtx, ctx, env)
	task.Output = ctx.Args().First()
	if err := task.ComputeRootHash(); err != nil {
		return fmt.Errorf("error reading root hash of %s: %w", task.Output, err)
	}
	fmt.Fprintf(ctx.App.Writer, "%s %s\n", task.Output, task.RootHash)
	return nil
}

func DiffCLI(ctx *cli.Context) error {
	format := strings.ToLower(ctx.String("output"))
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid output format %q (expected text or json)", format)
	}

	runCtx, stop := signalContext()
	defer stop()

	env, err := openEnv(runCtx, ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	task := newTask(runCtx, ctx, env)
	task.Left = ctx.Args().Get(0)
	task.Right = ctx.Args().Get(1)
	if err := task.DiffTrees(); err != nil {
		return fmt.Errorf("error comparing %s and %s: %w", task.Left, task.Right, err)
	}
	if dir := ctx.String("report-dir"); dir != "" {
		if _, err := common.WriteDivergenceReport(task.DiffResult, dir); err != nil {
			return err
		}
	}

	if format == "json" {
		return writeJSON(ctx.App.Writer, task.DiffResult)
	}
	if len(task.DiffResult.Ranges) == 0 {
		logger.Info("%s and %s are identical", task.Left, task.Right)
		return nil
	}
	for _, r := range task.DiffResult.Ranges {
		fmt.Fprintln(ctx.App.Writer, r.String())
	}
	return nil
}

func CreateTableCLI(ctx *cli.Context) error {
	runCtx, stop := signalContext()
	defer stop()

	env, err := openEnv(runCtx, ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	table := ctx.Args().First()
	splits := splitList(ctx.StringSlice("splits"))

	var sm store.SplitManager
	if len(splits) > 0 {
		var ok bool
		if sm, ok = env.Store.(store.SplitManager); !ok {
			return fmt.Errorf("the %s store derives splits from its data; --splits is not supported", env.Config.Store.Backend)
		}
	}
	if err := env.Store.CreateTable(runCtx, table); err != nil {
		return fmt.Errorf("error creating %s: %w", table, err)
	}
	if sm != nil {
		raw := make([][]byte, len(splits))
		for i, s := range splits {
			raw[i] = []byte(s)
		}
		if err := sm.AddSplits(runCtx, table, raw); err != nil {
			return fmt.Errorf("error adding splits to %s: %w", table, err)
		}
	}
	logger.Info("created %s", table)
	return nil
}

func TeardownCLI(ctx *cli.Context) error {
	runCtx, stop := signalContext()
	defer stop()

	env, err := openEnv(runCtx, ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	task := newTask(runCtx, ctx, env)
	task.Output = ctx.Args().First()
	if err := task.TeardownTable(); err != nil {
		return fmt.Errorf("error during teardown: %w", err)
	}
	return nil
}

func TasksCLI(ctx *cli.Context) error {
	ts, err := taskstore.New(config.Get().TaskStorePath)
	if err != nil {
		return err
	}
	defer ts.Close()

	records, err := ts.List(ctx.Int("limit"))
	if err != nil {
		return err
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s %-16s %-10s %s", rec.TaskID, rec.TaskType, rec.Status, rec.StartedAt.Format("2006-01-02 15:04:05"))
		if rec.RootHash != "" {
			line += " " + rec.RootHash
		}
		fmt.Fprintln(ctx.App.Writer, line)
	}
	return nil
}

func StartCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return fmt.Errorf("configuration not loaded; run inside a directory with %s or set %s", config.FileName, config.EnvVar)
	}

	component := strings.ToLower(strings.TrimSpace(ctx.String("component")))
	runScheduler := false
	runAPI := false
	switch component {
	case "", "all":
		runScheduler = true
		runAPI = true
	case "scheduler":
		runScheduler = true
	case "api":
		runAPI = true
	default:
		return fmt.Errorf("invalid component %q (expected scheduler, api, or all)", component)
	}

	runCtx, stop := signalContext()
	defer stop()

	env, err := backend.Open(runCtx, config.Cfg)
	if err != nil {
		return err
	}
	defer env.Close()

	rec := metrics.NewRecorder(nil)

	type runner struct {
		name string
		run  func(context.Context) error
	}

	var runners []runner

	if runScheduler {
		jobs, err := scheduler.BuildJobsFromConfig(config.Cfg, func() *mtree.MerkleTask {
			task := env.NewTask()
			task.Observer = mtree.MultiObserver{mtree.LogObserver{}, rec}
			return task
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			logger.Info("scheduler: no enabled jobs found in configuration")
		} else {
			for _, job := range jobs {
				logger.Info("scheduler: registering job %s", job.Name)
			}
			runners = append(runners, runner{
				name: "scheduler",
				run: func(ctx context.Context) error {
					return scheduler.RunJobs(ctx, jobs)
				},
			})
		}
	}

	if runAPI {
		apiServer, err := server.New(env, rec)
		if err != nil {
			return fmt.Errorf("api server init failed: %w", err)
		}
		runners = append(runners, runner{
			name: "api-server",
			run: func(ctx context.Context) error {
				return apiServer.Run(ctx)
			},
		})
	}

	if len(runners) == 0 {
		return nil
	}

	errCh := make(chan error, len(runners))
	for _, r := range runners {
		go func(r runner) {
			errCh <- r.run(runCtx)
		}(r)
	}

	for i := 0; i < len(runners); i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			stop()
			return err
		}
	}

	return nil
}
