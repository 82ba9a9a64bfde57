// Command blockdb is a thin argument-driven front end over
// internal/dbdir: enough to open a database, create/inspect tables, and
// insert/select rows from the shell, for manual exercise and debugging of
// the engine. It is deliberately not a network service; the engine is an
// embedded, single-process library.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/dbdir"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/shardedtable"
)

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "blockdb: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig is the YAML shape loaded by -config. Flags override values
// it sets.
type fileConfig struct {
	TableDefaults struct {
		CacheSize  int `yaml:"cacheSize"`
		Compressed int `yaml:"compressed"`
	} `yaml:"tableDefaults"`
	Monitoring struct {
		Enable          bool   `yaml:"enable"`
		Table           string `yaml:"table"`
		IntervalMinutes int    `yaml:"intervalMinutes"`
		MaxQueryLength  int    `yaml:"maxQueryLength"`
	} `yaml:"monitoring"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func mainImpl() error {
	dbPath := flag.String("db-path", "", "database directory (required)")
	create := flag.Bool("create", false, "create the database directory if missing")
	softLock := flag.Bool("soft-lock", false, "steal a stale directory lock instead of failing")
	ignoreLock := flag.Bool("ignore-lock", false, "open regardless of any existing directory lock")
	configPath := flag.String("config", "", "path to a YAML config file (tableDefaults, monitoring)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	monitorEnable := flag.Bool("monitor", false, "enable call monitoring")
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := newLogger(level)

	if *dbPath == "" {
		return errors.New("-db-path is required")
	}
	args := flag.Args()
	if len(args) == 0 {
		return errors.New("usage: blockdb -db-path=DIR <info|create|drop|select|insert> [args...]")
	}

	cfg, err := loadFileConfig(*configPath)
	if err != nil {
		return err
	}

	opts := dbdir.Options{
		DBPath:     *dbPath,
		Create:     *create,
		SoftLock:   *softLock,
		IgnoreLock: *ignoreLock,
		Monitor:    dbdir.DefaultMonitorOptions(),
	}
	opts.TableDefaults = basictable.DefaultOptions()
	if cfg.TableDefaults.CacheSize > 0 {
		opts.TableDefaults.CacheSize = cfg.TableDefaults.CacheSize
	}
	opts.TableDefaults.Compressed = cfg.TableDefaults.Compressed
	if cfg.Monitoring.Enable {
		opts.Monitor.Enable = true
	}
	if cfg.Monitoring.Table != "" {
		opts.Monitor.Table = cfg.Monitoring.Table
	}
	if cfg.Monitoring.IntervalMinutes > 0 {
		opts.Monitor.IntervalMinutes = cfg.Monitoring.IntervalMinutes
	}
	if cfg.Monitoring.MaxQueryLength > 0 {
		opts.Monitor.MaxQueryLength = cfg.Monitoring.MaxQueryLength
	}
	if *monitorEnable {
		opts.Monitor.Enable = true
	}

	d, err := dbdir.Open(opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("error closing database", "err", err)
		}
	}()

	if err := d.OpenAll(dbdir.TableOptions{Kind: dbdir.Basic, Basic: opts.TableDefaults}); err != nil {
		logger.Warn("openAll encountered an error", "err", err)
	}

	return dispatch(d, args)
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// newLogger picks a colorized terminal handler when stderr is a tty and a
// plain JSON handler otherwise, the way any CLI entry point in this
// codebase's style would.
func newLogger(level slog.Level) *slog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		h := tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{Level: level})
		return slog.New(h)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func dispatch(d *dbdir.Directory, args []string) error {
	ctx := context.Background()
	switch args[0] {
	case "info":
		return cmdInfo(d)
	case "create":
		return cmdCreate(ctx, d, args[1:])
	case "drop":
		if len(args) < 2 {
			return errors.New("usage: drop <table>")
		}
		return d.Drop(ctx, args[1])
	case "select":
		if len(args) < 2 {
			return errors.New("usage: select <table>")
		}
		return cmdSelect(ctx, d, args[1])
	case "insert":
		if len(args) < 2 {
			return errors.New("usage: insert <table> (reads JSON objects, one per line, from stdin)")
		}
		return cmdInsert(d, args[1])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdInfo(d *dbdir.Directory) error {
	info, err := d.GetDbInfo()
	if err != nil {
		return err
	}
	size, err := d.GetDbSize()
	if err != nil {
		return err
	}
	for name, kind := range info {
		fmt.Printf("%s\t%s\n", name, kind)
	}
	fmt.Printf("total size: %d bytes\n", size)
	return nil
}

func cmdCreate(ctx context.Context, d *dbdir.Directory, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	sharded := fs.Bool("sharded", false, "create a sharded table")
	memory := fs.Bool("memory", false, "create a memory table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: create [-sharded|-memory] <table>")
	}
	opts := dbdir.DefaultTableOptions()
	switch {
	case *sharded:
		opts.Kind = dbdir.Sharded
	case *memory:
		opts.Kind = dbdir.Memory
	}
	return d.Create(ctx, fs.Arg(0), opts)
}

func cmdSelect(ctx context.Context, d *dbdir.Directory, name string) error {
	rows, err := d.Select(ctx, name, query.Select{})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func cmdInsert(d *dbdir.Directory, name string) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode row: %w", err)
		}
		gen := shardedtable.Generator(func(model.Record) string { return shardedAutoGenerator })
		id, err := d.Insert(name, rec, dbdir.InsertOptions{Mode: basictable.InsertDefault, Generator: gen})
		if err != nil {
			return err
		}
		fmt.Println(id)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// shardedAutoGenerator asks the sharded-table coordinator to place rows
// inserted without an explicit "shard" field automatically.
const shardedAutoGenerator = "___auto"
