package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/convo/internal/archive"
	"github.com/hpungsan/convo/internal/config"
	"github.com/hpungsan/convo/internal/conversation"
	"github.com/hpungsan/convo/internal/errors"
	"github.com/hpungsan/convo/internal/files"
	"github.com/hpungsan/convo/internal/logging"
	"github.com/hpungsan/convo/internal/message"
	"github.com/hpungsan/convo/internal/turn"
	"github.com/hpungsan/convo/internal/web"
)

// maxStdinBytes caps scripts and baselines read from stdin.
const maxStdinBytes = 10 << 20

// cliEnv is shared by all commands. The archive is opened on first use.
type cliEnv struct {
	cfg     *config.Config
	baseDir string
	log     *zap.Logger

	db *sql.DB
}

func (e *cliEnv) archive() (*sql.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := archive.Init(e.baseDir)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

// Close releases the archive if it was opened.
func (e *cliEnv) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *cliEnv) *cli.App {
	if env == nil {
		env = &cliEnv{}
	}
	if env.cfg == nil {
		env.cfg = config.DefaultConfig()
	}
	env.log = logging.OrNop(env.log)

	app := &cli.App{
		Name:    "convo",
		Usage:   "Prioritized conversation assembly for coding assistants",
		Version: Version,
		Commands: []*cli.Command{
			assembleCmd(env),
			diffCmd(env),
			turnsCmd(env),
			uiCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// AssembleOutput is the result of replaying a script.
type AssembleOutput struct {
	Messages       []message.Wire `json:"messages"`
	Count          int            `json:"count"`
	TokensEstimate int            `json:"tokens_estimate"`
	Turns          int            `json:"turns"`
	Session        string         `json:"session,omitempty"`
}

// assembleCmd creates the assemble command.
func assembleCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "assemble",
		Usage: "Replay a JSON or YAML conversation script and print the assembled messages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "script", Aliases: []string{"s"}, Usage: "Script file (reads stdin when omitted)"},
			&cli.BoolFlag{Name: "cache-headers", Usage: "Annotate prompt-cache breakpoints"},
			&cli.StringFlag{Name: "tag", Aliases: []string{"t"}, Usage: "Only print messages with this tag"},
			&cli.BoolFlag{Name: "archive", Usage: "Archive the final export as a turn"},
		},
		Action: func(c *cli.Context) error {
			script, dir, err := readScript(c.String("script"))
			if err != nil {
				return outputError(err)
			}

			cfg := *env.cfg
			if c.Bool("cache-headers") {
				cfg.AddCacheHeaders = true
			}

			opts := turn.Options{Config: &cfg, Logger: env.log}
			var session string
			if c.Bool("archive") || cfg.Archive {
				db, err := env.archive()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				session = archive.NewSessionID()
				opts.Dump = &archive.Sink{DB: db, Session: session}
			}

			sess, err := newScriptSession(script, dir, opts)
			if err != nil {
				return outputError(err)
			}
			runner := &scriptRunner{sess: sess, dir: dir}
			if err := runner.Run(c.Context, script); err != nil {
				return outputError(err)
			}

			wires, err := exportScript(c.Context, sess, c.String("tag"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(AssembleOutput{
				Messages:       wires,
				Count:          len(wires),
				TokensEstimate: message.EstimateWireTokens(wires),
				Turns:          len(script.Turns),
				Session:        session,
			})
		},
	}
}

func exportScript(ctx context.Context, sess *turn.Session, tagName string) ([]message.Wire, error) {
	if tagName == "" {
		return sess.Messages(ctx)
	}
	tag, err := message.ParseTag(tagName)
	if err != nil {
		return nil, err
	}
	var wires []message.Wire
	err = sess.Do(func(store *conversation.Store, _ *files.Tracker) error {
		var xerr error
		wires, xerr = store.Export(ctx, conversation.ExportOptions{Tag: &tag, Reload: true})
		return xerr
	})
	return wires, err
}

// readScript loads the script at path, or from stdin when path is empty.
// Relative paths inside a stdin script resolve against the working directory.
func readScript(path string) (*Script, string, error) {
	if path != "" {
		s, err := LoadScript(path)
		if err != nil {
			return nil, "", err
		}
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, "", errors.NewInternal(err)
		}
		return s, dir, nil
	}

	if !stdinHasData() {
		return nil, "", errors.NewInvalidRequest("script must be given with --script or piped via stdin")
	}
	data, err := readStdin()
	if err != nil {
		return nil, "", errors.NewInvalidRequest(err.Error())
	}
	var s Script
	if err := yaml.Unmarshal([]byte(data), &s); err != nil {
		return nil, "", errors.NewInvalidRequest(fmt.Sprintf("parse script: %v", err))
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", errors.NewInternal(err)
	}
	return &s, cwd, nil
}

// DiffOutput is the result of the diff command.
type DiffOutput struct {
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
	Diff    string `json:"diff,omitempty"`
}

// diffCmd creates the diff command.
func diffCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Diff a file against a baseline (reads the baseline from stdin when --baseline is omitted)",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "baseline", Aliases: []string{"b"}, Usage: "Baseline file"},
			&cli.IntFlag{Name: "context", Aliases: []string{"c"}, Value: env.cfg.DiffContextLines, Usage: "Unchanged lines around each hunk"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one path is required"))
			}
			path := c.Args().First()

			var baseline string
			if name := c.String("baseline"); name != "" {
				data, err := os.ReadFile(name)
				if err != nil {
					return outputError(errors.NewInvalidRequest(fmt.Sprintf("read baseline: %v", err)))
				}
				baseline = string(data)
			} else {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("baseline must be given with --baseline or piped via stdin"))
				}
				data, err := readStdinRaw()
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				baseline = data
			}

			if _, err := os.Stat(path); err != nil {
				return outputError(errors.NewNotFound("file", path))
			}

			tracker := files.New(files.Options{ContextLines: c.Int("context"), Logger: env.log})
			tracker.Add(path, files.AddOptions{Content: &baseline})
			diff, changed := tracker.PreviewDiff(path)
			return outputJSON(DiffOutput{Path: files.Abs(path), Changed: changed, Diff: diff})
		},
	}
}

// TurnsOutput lists archived turns.
type TurnsOutput struct {
	Turns []archive.Turn `json:"turns"`
	Count int            `json:"count"`
}

// TurnOutput is one archived turn with its messages.
type TurnOutput struct {
	archive.Turn
	Messages []message.Wire `json:"messages"`
}

// turnsCmd creates the turns command.
func turnsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "turns",
		Usage: "List archived turns, or show one with --id",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Filter by session ID"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum turns to return"},
			&cli.StringFlag{Name: "id", Usage: "Show a single turn with its messages"},
		},
		Action: func(c *cli.Context) error {
			db, err := env.archive()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			if id := c.String("id"); id != "" {
				t, err := archive.GetTurn(c.Context, db, id)
				if err != nil {
					return outputError(err)
				}
				msgs, err := t.Messages()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				return outputJSON(TurnOutput{Turn: *t, Messages: msgs})
			}

			turns, err := archive.ListTurns(c.Context, db, archive.TurnQuery{
				Session: c.String("session"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(TurnsOutput{Turns: turns, Count: len(turns)})
		},
	}
}

// uiCmd creates the ui command.
func uiCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Browse archived turns in a local web viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 7878, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			db, err := env.archive()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			srv, err := web.NewServer(db, Version, c.String("bind"), c.Int("port"), env.log)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, env.log); err != nil && err != http.ErrServerClosed {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// outputJSON writes JSON output to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if convoErr, ok := err.(*errors.ConvoError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", convoErr.Code, convoErr.Message), 1)
	}
	if convoErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %v", convoErr.Code, err), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, trimmed.
func readStdin() (string, error) {
	data, err := readStdinRaw()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(data), nil
}

// readStdinRaw reads stdin up to maxStdinBytes.
func readStdinRaw() (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxStdinBytes {
		return "", fmt.Errorf("stdin exceeds %d bytes", maxStdinBytes)
	}
	return string(data), nil
}
