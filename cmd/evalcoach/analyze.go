package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/amoylab/evalcoach/internal/analyzer"
	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/coordinator"
	"github.com/amoylab/evalcoach/internal/session"
	"github.com/amoylab/evalcoach/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeOpts struct {
	fen     string
	moves   []string
	depth   int
	lines   int
	engine  string
	timeout time.Duration
	json    bool
	follow  bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one position and print the engine lines",
	Example: `  evalcoach analyze --moves e2e4,e7e5 --depth 18 --lines 3
  evalcoach analyze --fen "8/8/8/4k3/8/8/4P3/4K3 w - - 0 1" --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAnalyzeConfig()
		if err != nil {
			return err
		}
		if analyzeOpts.engine != "" {
			cfg.Engine.Path = analyzeOpts.engine
		}

		lg, err := logger.NewLogger(&cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer lg.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), analyzeOpts.timeout)
		defer cancel()
		return analyzeOnce(ctx, cmd.OutOrStdout(), cfg, lg)
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeOpts.fen, "fen", "startpos", "root position as FEN")
	f.StringSliceVar(&analyzeOpts.moves, "moves", nil, "moves in long algebraic notation played from the root")
	f.IntVarP(&analyzeOpts.depth, "depth", "d", 0, "search depth, 0 uses the configured default")
	f.IntVarP(&analyzeOpts.lines, "lines", "n", 0, "number of lines, 0 uses the configured default")
	f.StringVar(&analyzeOpts.engine, "engine", "", "engine binary, overrides the configuration")
	f.DurationVar(&analyzeOpts.timeout, "timeout", 2*time.Minute, "give up after this long")
	f.BoolVar(&analyzeOpts.json, "json", false, "print the final result as JSON")
	f.BoolVar(&analyzeOpts.follow, "follow", false, "print every depth as it arrives")
}

// loadAnalyzeConfig falls back to defaults when no configuration file exists.
func loadAnalyzeConfig() (*config.AnalyzerConfig, error) {
	cfg, cfgPath, err := config.LoadConfig[config.AnalyzerConfig](configPath)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
		cfg.Logger.Level = "warn"
		cfg.Logger.Format = "console"
		return cfg, nil
	default:
		return nil, fmt.Errorf("failed to load configuration %s: %w", cfgPath, err)
	}
}

func analyzeOnce(ctx context.Context, out io.Writer, cfg *config.AnalyzerConfig, lg *zap.Logger) error {
	// one-shot runs never serve the tracing or metrics endpoints
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false

	a, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	snap, err := a.analyzer.Analyze(ctx, analyzer.Request{
		Position: analyzeOpts.fen,
		Moves:    analyzeOpts.moves,
		Depth:    analyzeOpts.depth,
		Lines:    analyzeOpts.lines,
	})
	if err != nil {
		return describe(a.coord, err)
	}

	if analyzeOpts.follow && !analyzeOpts.json {
		unsubscribe := a.analyzer.Subscribe(snap.ID, func(s session.Snapshot) {
			if s.Status == session.StatusActive && len(s.Lines) > 0 {
				fmt.Fprintf(out, "depth %d  %s  %s\n", s.Depth, s.Lines[0].Eval, strings.Join(s.Lines[0].SAN, " "))
			}
		})
		defer unsubscribe()
	}

	final, err := a.analyzer.Wait(ctx, snap.ID)
	if err != nil {
		a.analyzer.Stop(context.Background(), snap.ID)
		return fmt.Errorf("analysis did not finish: %w", err)
	}

	update := a.coord.Render(final, cfg.I18n.DefaultLang)
	if update.Error != nil {
		return errors.New(update.Error.Message)
	}
	if analyzeOpts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(update)
	}
	printUpdate(out, final, update)
	return nil
}

func describe(c *coordinator.Coordinator, err error) error {
	f := c.Classify(err, "")
	return fmt.Errorf("%s: %w", f.Message, err)
}

func printUpdate(out io.Writer, snap session.Snapshot, u coordinator.Update) {
	fmt.Fprintf(out, "position %s\n", snap.Position)
	source := "engine"
	if u.Cached {
		source = "cache"
	}
	fmt.Fprintf(out, "status %s, depth %d (%s)\n", u.Status, u.Depth, source)
	for i, l := range u.Lines {
		fmt.Fprintf(out, "%d. [%2d] %7s  %s\n", i+1, l.Depth, l.Evaluation, strings.Join(l.Moves, " "))
	}
	if u.BestMove != "" {
		fmt.Fprintf(out, "bestmove %s\n", u.BestMove)
	}
}
