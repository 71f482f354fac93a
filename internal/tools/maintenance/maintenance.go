// Package maintenance runs offline checks and repairs against cart storage.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	entrypoint "github.com/louisbranch/shopping-cart/internal/platform/cmd"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/event"
	"github.com/louisbranch/shopping-cart/internal/services/cart/domain/journal"
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
	badgerstore "github.com/louisbranch/shopping-cart/internal/services/cart/storage/badger"
	redisstore "github.com/louisbranch/shopping-cart/internal/services/cart/storage/redis"
	sqlitestore "github.com/louisbranch/shopping-cart/internal/services/cart/storage/sqlite"
)

// Maintenance commands.
const (
	CommandVerifyJournal     = "verify-journal"
	CommandRebuildProjection = "rebuild-projection"
)

// Config holds maintenance command configuration.
type Config struct {
	Command          string
	JournalBackend   string
	JournalPath      string
	ReadModelBackend string
	ProjectionsPath  string
	RedisAddr        string
	TagCount         int
	Timeout          time.Duration
	WarningsCap      int
	JSONOutput       bool
}

type envConfig struct {
	JournalBackend   string        `env:"CART_JOURNAL_BACKEND" envDefault:"sqlite"`
	JournalPath      string        `env:"CART_JOURNAL_PATH"`
	ReadModelBackend string        `env:"CART_READ_MODEL_BACKEND" envDefault:"sqlite"`
	ProjectionsPath  string        `env:"CART_PROJECTIONS_PATH"`
	RedisAddr        string        `env:"CART_REDIS_ADDR"`
	TagCount         int           `env:"CART_TAG_COUNT" envDefault:"4"`
	Timeout          time.Duration `env:"CART_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := entrypoint.ParseConfig(&envCfg); err != nil {
		return Config{}, err
	}

	cfg := Config{
		JournalBackend:   envCfg.JournalBackend,
		JournalPath:      envCfg.JournalPath,
		ReadModelBackend: envCfg.ReadModelBackend,
		ProjectionsPath:  envCfg.ProjectionsPath,
		RedisAddr:        envCfg.RedisAddr,
		TagCount:         envCfg.TagCount,
		Timeout:          envCfg.Timeout,
		WarningsCap:      25,
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join("data", "journal.db")
	}
	if cfg.ProjectionsPath == "" {
		cfg.ProjectionsPath = filepath.Join("data", "projections.db")
	}

	fs.StringVar(&cfg.Command, "command", "", "maintenance command (verify-journal|rebuild-projection)")
	fs.StringVar(&cfg.JournalBackend, "journal-backend", cfg.JournalBackend, "journal backend (sqlite|badger)")
	fs.StringVar(&cfg.JournalPath, "journal-path", cfg.JournalPath, "journal sqlite file or badger directory (default: CART_JOURNAL_PATH or data/journal.db)")
	fs.StringVar(&cfg.ReadModelBackend, "read-model-backend", cfg.ReadModelBackend, "read model backend (sqlite|redis)")
	fs.StringVar(&cfg.ProjectionsPath, "projections-path", cfg.ProjectionsPath, "projections sqlite file (default: CART_PROJECTIONS_PATH or data/projections.db)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the redis read model")
	fs.IntVar(&cfg.TagCount, "tag-count", cfg.TagCount, "number of projection tags the journal was written with")
	fs.IntVar(&cfg.WarningsCap, "warnings-cap", cfg.WarningsCap, "max gaps to print (0 = no limit)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	switch cfg.Command {
	case CommandVerifyJournal, CommandRebuildProjection:
	case "":
		return errors.New("-command is required")
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
	if cfg.TagCount <= 0 {
		return fmt.Errorf("-tag-count must be > 0")
	}

	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	var readModel closableReadModel
	if cfg.Command == CommandRebuildProjection {
		readModel, err = openReadModel(ctx, cfg)
		if err != nil {
			if closeErr := j.Close(); closeErr != nil && errOut != nil {
				fmt.Fprintf(errOut, "Error: close journal: %v\n", closeErr)
			}
			return err
		}
	}
	return runWithDeps(ctx, cfg, j, readModel, out, errOut)
}

func runWithDeps(ctx context.Context, cfg Config, j journal.Journal, readModel closableReadModel, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	defer func() {
		if err := j.Close(); err != nil {
			fmt.Fprintf(errOut, "Error: close journal: %v\n", err)
		}
		if readModel != nil {
			if err := readModel.Close(); err != nil {
				fmt.Fprintf(errOut, "Error: close read model: %v\n", err)
			}
		}
	}()

	var result report
	switch cfg.Command {
	case CommandVerifyJournal:
		result = verifyJournal(ctx, j, cfg.WarningsCap)
	case CommandRebuildProjection:
		if readModel == nil {
			return errors.New("rebuild-projection requires a read model")
		}
		result = rebuildProjection(ctx, j, readModel, cfg.TagCount)
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}

	if cfg.JSONOutput {
		outputJSON(out, errOut, result)
	} else {
		printReport(out, errOut, result)
	}
	if result.ExitCode != 0 {
		return errors.New("maintenance failed")
	}
	return nil
}

type report struct {
	Command    string            `json:"command"`
	Carts      int               `json:"carts,omitempty"`
	Gaps       []string          `json:"gaps,omitempty"`
	TotalGaps  int               `json:"total_gaps,omitempty"`
	Cursors    map[string]uint64 `json:"cursors,omitempty"`
	Error      string            `json:"error,omitempty"`
	ExitCode   int               `json:"exit_code"`
	DurationMS int64             `json:"duration_ms"`
}

func verifyJournal(ctx context.Context, j journal.Journal, warningsCap int) report {
	start := time.Now()
	result := report{Command: CommandVerifyJournal}

	ids, err := j.ListCartIDs(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("list cart ids: %v", err)
		result.ExitCode = 1
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}
	result.Carts = len(ids)

	gaps, err := journal.Verify(ctx, j)
	lines := make([]string, 0, len(gaps))
	for _, gap := range gaps {
		lines = append(lines, gap.String())
	}
	result.Gaps, result.TotalGaps = capWarnings(lines, warningsCap)
	if err != nil {
		result.Error = err.Error()
		result.ExitCode = 1
	} else if len(gaps) > 0 {
		result.ExitCode = 1
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

func rebuildProjection(ctx context.Context, j journal.Journal, store projection.Store, tagCount int) report {
	start := time.Now()
	result := report{Command: CommandRebuildProjection}

	runner, err := projection.NewRunner(j, store, projection.Options{TagCount: tagCount})
	if err == nil {
		err = runner.Rebuild(ctx)
	}
	if err != nil {
		result.Error = err.Error()
		result.ExitCode = 1
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	result.Cursors = make(map[string]uint64, tagCount)
	for _, tag := range event.Tags(tagCount) {
		cursor, err := store.Cursor(ctx, tag)
		if err != nil {
			result.Error = fmt.Sprintf("read cursor %s: %v", tag, err)
			result.ExitCode = 1
			break
		}
		result.Cursors[tag] = cursor
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

func capWarnings(warnings []string, limit int) ([]string, int) {
	total := len(warnings)
	if limit == 0 || total <= limit {
		return warnings, total
	}
	return warnings[:limit], total
}

func outputJSON(out io.Writer, errOut io.Writer, result report) {
	encoder := json.NewEncoder(out)
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(errOut, "Error: encode report: %v\n", err)
	}
}

func printReport(out io.Writer, errOut io.Writer, result report) {
	switch result.Command {
	case CommandVerifyJournal:
		fmt.Fprintf(out, "Verified %d carts: %d gaps\n", result.Carts, result.TotalGaps)
		for _, gap := range result.Gaps {
			fmt.Fprintf(errOut, "Gap: %s\n", gap)
		}
		if omitted := result.TotalGaps - len(result.Gaps); omitted > 0 {
			fmt.Fprintf(errOut, "... %d more gaps omitted\n", omitted)
		}
	case CommandRebuildProjection:
		if result.ExitCode == 0 {
			tags := make([]string, 0, len(result.Cursors))
			for _, tag := range event.Tags(len(result.Cursors)) {
				tags = append(tags, fmt.Sprintf("%s=%d", tag, result.Cursors[tag]))
			}
			fmt.Fprintf(out, "Rebuilt read model: %s\n", strings.Join(tags, " "))
		}
	}
	if result.Error != "" {
		fmt.Fprintf(errOut, "Error: %s\n", result.Error)
	}
}

func openJournal(cfg Config) (journal.Journal, error) {
	stamper := journal.Stamper{TagCount: cfg.TagCount}
	switch cfg.JournalBackend {
	case "sqlite", "":
		j, err := sqlitestore.OpenJournal(cfg.JournalPath, stamper)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return j, nil
	case "badger":
		j, err := badgerstore.Open(cfg.JournalPath, stamper)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.JournalBackend)
	}
}

func openReadModel(ctx context.Context, cfg Config) (closableReadModel, error) {
	switch cfg.ReadModelBackend {
	case "sqlite", "":
		p, err := sqlitestore.OpenProjections(cfg.ProjectionsPath)
		if err != nil {
			return nil, fmt.Errorf("open projections: %w", err)
		}
		return p, nil
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, errors.New("-redis-addr is required for the redis read model")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		rm, err := redisstore.New(client, redisstore.Options{})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open redis read model: %w", err)
		}
		return sharedReadModel{Store: rm, close: client.Close}, nil
	default:
		return nil, fmt.Errorf("unknown read model backend %q", cfg.ReadModelBackend)
	}
}
