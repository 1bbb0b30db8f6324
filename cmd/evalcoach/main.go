package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoylab/evalcoach/internal/analyzer"
	"github.com/amoylab/evalcoach/internal/cache"
	"github.com/amoylab/evalcoach/internal/common/cnst"
	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/amoylab/evalcoach/internal/coordinator"
	"github.com/amoylab/evalcoach/internal/core"
	"github.com/amoylab/evalcoach/internal/engine"
	"github.com/amoylab/evalcoach/internal/i18n"
	"github.com/amoylab/evalcoach/pkg/helper"
	"github.com/amoylab/evalcoach/pkg/logger"
	"github.com/amoylab/evalcoach/pkg/metrics"
	"github.com/amoylab/evalcoach/pkg/trace"
	"github.com/amoylab/evalcoach/pkg/utils"
	"github.com/amoylab/evalcoach/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

var (
	configPath string
	pidFile    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of evalcoach",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "evalcoach version %s\n", version.Info())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Test the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := config.LoadConfig[config.AnalyzerConfig](configPath)
			if err != nil {
				return fmt.Errorf("configuration file %s is invalid: %w", cfgPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration file %s is valid (engine %s, %d workers, %s cache)\n",
				cfgPath, cfg.Engine.Path, cfg.Pool.MaxWorkers, cfg.Cache.Type)
			return nil
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop a running evalcoach server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pidFile
			if path == "" {
				cfg, _, err := config.LoadConfig[config.AnalyzerConfig](configPath)
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				path = cfg.PID
			}
			if err := utils.SendSignalToPIDFile(helper.GetPIDPath(path), syscall.SIGTERM); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.AppName,
		Short: "Chess position analysis service",
		Long:  `evalcoach runs UCI engines behind an HTTP API with live analysis updates`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.AppName+".yaml", "path to configuration file, like /etc/evalcoach/evalcoach.yaml")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid", "", "path to PID file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// newLauncher builds the engine launcher; tests swap in a fake engine.
var newLauncher = func(cfg config.EngineConfig, lg *zap.Logger) engine.Launcher {
	return engine.NewExecLauncher(cfg, lg)
}

// app holds everything wired from one configuration.
type app struct {
	cfg      *config.AnalyzerConfig
	logger   *zap.Logger
	i18n     *i18n.I18n
	metrics  *metrics.Metrics
	analyzer *analyzer.Service
	coord    *coordinator.Coordinator
	tracing  func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.AnalyzerConfig, lg *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: lg}

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracing = shutdownTracing

	a.i18n, err = i18n.NewI18n(language.Make(cfg.I18n.DefaultLang))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize translations: %w", err)
	}
	if cfg.I18n.Path != "" {
		if err := a.i18n.LoadTranslations(cfg.I18n.Path); err != nil {
			return nil, fmt.Errorf("failed to load translations: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics)
	}

	store, err := cache.NewStore(lg, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	a.analyzer = analyzer.New(cfg, newLauncher(cfg.Engine, lg), store, lg, a.metrics)
	a.coord = coordinator.New(a.analyzer, a.i18n, cfg.Coordinator, cfg.DevMode, lg, a.metrics)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.coord.Close()
	if err := a.analyzer.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shut down analyzer", zap.Error(err))
	}
	if err := a.tracing(ctx); err != nil {
		a.logger.Error("failed to flush traces", zap.Error(err))
	}
}

func loadLogger() (*config.AnalyzerConfig, *zap.Logger, error) {
	cfg, cfgPath, err := config.LoadConfig[config.AnalyzerConfig](configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration %s: %w", cfgPath, err)
	}
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	lg.Info("loaded configuration", zap.String("path", cfgPath))
	return cfg, lg, nil
}

func run() error {
	cfg, lg, err := loadLogger()
	if err != nil {
		return err
	}
	defer lg.Sync()

	if pidFile != "" {
		cfg.PID = pidFile
	}
	pid := utils.NewPIDFile(helper.GetPIDPath(cfg.PID))
	if err := pid.Write(); err != nil {
		if errors.Is(err, utils.ErrAlreadyRunning) {
			return err
		}
		lg.Warn("failed to write PID file", zap.String("path", pid.Path()), zap.Error(err))
	} else {
		defer func() { _ = pid.Remove() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	a.analyzer.Start(ctx)

	srv := core.NewServer(lg, cfg, a.analyzer, a.coord, a.i18n, a.metrics)
	srv.RegisterRoutes()
	srv.Start()
	lg.Info("evalcoach started",
		zap.String("version", version.Get()),
		zap.Int("port", cfg.Server.Port),
		zap.String("engine", cfg.Engine.Path),
		zap.String("cache", cfg.Cache.Type))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	lg.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("failed to shut down server", zap.Error(err))
	}
	a.close(shutdownCtx)
	lg.Info("evalcoach stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
