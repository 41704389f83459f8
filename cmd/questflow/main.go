package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/questflow/config"
	"github.com/BaSui01/questflow/engine"
	"github.com/BaSui01/questflow/persistence"
	"github.com/BaSui01/questflow/types"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runSession(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// ====== serve command ======

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting questflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	srv, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()
	logger.Info("questflow stopped")
}

// ====== run command ======

// runSession drives one campaign from the terminal, printing each
// narrative line as rounds complete.
func runSession(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	sessionID := fs.String("session", "", "Session identifier")
	pcsFlag := fs.String("pcs", "", "Comma-separated player character IDs")
	rounds := fs.Int("rounds", 10, "Number of rounds to run")
	fs.Parse(args)

	if *sessionID == "" || *pcsFlag == "" {
		fmt.Fprintln(os.Stderr, "run requires --session and --pcs")
		os.Exit(1)
	}
	pcs := strings.Split(*pcsFlag, ",")
	for i := range pcs {
		pcs[i] = strings.TrimSpace(pcs[i])
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	state, err := types.NewGameState(*sessionID, pcs, types.GameConfig{
		TokenLimit:      cfg.Game.TokenLimit,
		CombatEnabled:   cfg.Game.CombatEnabled,
		MaxCombatRounds: cfg.Game.MaxCombatRounds,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid session: %v\n", err)
		os.Exit(1)
	}

	stack, err := buildEngineStack(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		os.Exit(1)
	}
	defer stack.Close()

	apCfg := engine.AutopilotConfig{
		MaxRounds:       *rounds,
		MaxRetries:      cfg.Autopilot.MaxRetries,
		InitialBackoff:  cfg.Autopilot.InitialBackoff,
		RoundsPerSecond: cfg.Autopilot.RoundsPerSecond,
	}
	ap := engine.NewAutopilot(stack.NewOrchestrator(pcs), apCfg, logger)

	final, reason, err := ap.Run(context.Background(), state)
	for _, line := range final.GroundTruthLog {
		fmt.Println(line)
	}
	fmt.Printf("\n-- session %s stopped: %s --\n", *sessionID, reason)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Session error: %v\n", err)
		os.Exit(1)
	}
}

// ====== inspect command ======

// runInspect lists the checkpoints and forks a campaign has on disk.
func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	sessionID := fs.String("session", "", "Session identifier")
	fs.Parse(args)

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "inspect requires --session")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	store := persistence.NewFileStore(cfg.Persistence.Root, zap.NewNop())
	ctx := context.Background()

	turns, err := store.ListTurns(ctx, *sessionID, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list checkpoints: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("session %s: %d checkpoints\n", *sessionID, len(turns))
	for _, turn := range turns {
		fmt.Printf("  turn %d\n", turn)
	}

	forks, err := persistence.NewForkManager(store, zap.NewNop()).ListForks(*sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list forks: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("forks: %d\n", len(forks))
	for _, f := range forks {
		marker := ""
		if f.Archived {
			marker = " (archived)"
		}
		fmt.Printf("  %s  %q  %d turns%s\n", f.ID, f.Name, f.TurnCount, marker)
	}
}

// ====== health command ======

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// ====== version and help ======

func printVersion() {
	fmt.Printf("questflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`questflow - multi-agent campaign engine

Usage:
  questflow <command> [options]

Commands:
  serve     Start the questflow API server
  run       Drive one campaign session from the terminal
  inspect   List a campaign's checkpoints and forks
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --config <path>   Path to configuration file (YAML)
  --session <id>    Session identifier (required)
  --pcs <a,b,c>     Player character IDs (required)
  --rounds <n>      Rounds to run (default 10)

Options for 'inspect':
  --config <path>   Path to configuration file (YAML)
  --session <id>    Session identifier (required)

Examples:
  questflow serve --config /etc/questflow/config.yaml
  questflow run --session demo --pcs kira,tomas --rounds 5
  questflow health --addr http://localhost:8080`)
}

// ====== helpers ======

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
