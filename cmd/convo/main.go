package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/convo/internal/archive"
	"github.com/hpungsan/convo/internal/config"
	"github.com/hpungsan/convo/internal/conversation"
	"github.com/hpungsan/convo/internal/logging"
	"github.com/hpungsan/convo/internal/mcp"
	"github.com/hpungsan/convo/internal/turn"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"assemble": true, "diff": true, "turns": true, "ui": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ ___  _ ___   _____
  / __/ _ \| '_ \ \ / / _ \
 | (_| (_) | | | \ V / (_) |
  \___\___/|_| |_|\_/ \___/

  Prioritized conversation assembly

  Usage: convo <command> [options]
         convo --help

  MCP server mode requires piped input.`)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before config load
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, config.DirName)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine working directory: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if isCLIMode() {
		env := &cliEnv{cfg: cfg, baseDir: baseDir, log: logger}
		err := newCLIApp(env).Run(os.Args)
		_ = env.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'convo --help' for usage.\n")
		os.Exit(1)
	}

	if err := serve(cfg, baseDir, cwd, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// serve runs the MCP server over stdio for one session rooted at cwd.
func serve(cfg *config.Config, baseDir, cwd string, logger *zap.Logger) error {
	for _, name := range mcp.ValidateDisabledTools(cfg.DisabledTools) {
		logger.Warn("unknown tool in disabled_tools", zap.String("tool", name))
	}

	opts := turn.Options{Config: cfg, Root: cwd, Logger: logger}

	var db *sql.DB
	if cfg.Archive {
		var err error
		db, err = archive.Init(baseDir)
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		defer db.Close()

		session := archive.NewSessionID()
		logger.Info("archiving turns", zap.String("session", session))
		sink := &archive.Sink{DB: db, Session: session}
		if cfg.Verbose && cfg.DebugLogPath != "" {
			path := cfg.DebugLogPath
			if !filepath.IsAbs(path) {
				path = filepath.Join(cwd, path)
			}
			opts.Dump = conversation.MultiDump{conversation.FileDump{Path: path}, sink}
		} else {
			opts.Dump = sink
		}
	}

	sess, err := turn.New(opts)
	if err != nil {
		return err
	}
	return mcp.Run(sess, db, cfg, Version)
}
