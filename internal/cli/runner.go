// Package cli dispatches todosync subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/idilsaglam/todosync/internal/api"
	"github.com/idilsaglam/todosync/internal/config"
	"github.com/idilsaglam/todosync/internal/exitcode"
	"github.com/idilsaglam/todosync/internal/logging"
	"github.com/idilsaglam/todosync/internal/model"
	"github.com/idilsaglam/todosync/internal/session"
	"github.com/idilsaglam/todosync/internal/synchronizer"
	"github.com/idilsaglam/todosync/internal/tui"
	"github.com/idilsaglam/todosync/internal/ui"
)

// Env is everything a run reads from outside.
type Env struct {
	Out    io.Writer
	Err    io.Writer
	Config *config.Config
	Logger *log.Logger

	// RunTUI starts the interactive list. Defaults to tui.Run.
	RunTUI func(ctx context.Context, s tui.Syncer, load tui.Loader) error
}

// usageError is a bad invocation; it maps to exitcode.Usage.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, a ...any) error { return usageError{fmt.Sprintf(format, a...)} }

// Run dispatches subcommands and returns an exit code.
func Run(ctx context.Context, args []string, env Env) int {
	if env.Logger == nil {
		env.Logger = logging.Discard()
	}
	if env.RunTUI == nil {
		env.RunTUI = tui.Run
	}
	if len(args) == 0 {
		PrintHelp(env.Err)
		return exitcode.Usage
	}
	cmd, a := args[0], args[1:]

	var err error
	switch cmd {
	case "help", "-h", "--help":
		PrintHelp(env.Out)
		return exitcode.Success
	case "session":
		err = doSession(env, a)
	case "ls":
		err = withBackend(env, func(b *backend) error { return doList(ctx, env, b, a) })
	case "show":
		err = withBackend(env, func(b *backend) error { return doShow(ctx, env, b, a) })
	case "check":
		err = withBackend(env, func(b *backend) error { return doSet(ctx, env, b, a, true) })
	case "uncheck":
		err = withBackend(env, func(b *backend) error { return doSet(ctx, env, b, a, false) })
	case "tui":
		err = withBackend(env, func(b *backend) error { return doTUI(ctx, env, b, a) })
	default:
		ui.Fail(env.Err, "unknown subcommand: "+cmd)
		fmt.Fprintln(env.Err)
		PrintHelp(env.Err)
		return exitcode.Usage
	}
	return report(env, err)
}

// report prints err and maps it to an exit code.
func report(env Env, err error) int {
	if err == nil {
		return exitcode.Success
	}
	var ue usageError
	var fe *synchronizer.FetchError
	var we *synchronizer.WriteError
	var se *api.StatusError
	switch {
	case errors.As(err, &ue):
		ui.Fail(env.Err, ue.msg)
		return exitcode.Usage
	case errors.Is(err, synchronizer.ErrEmptyID):
		ui.Fail(env.Err, "todo id must not be empty")
		return exitcode.Usage
	case errors.Is(err, synchronizer.ErrConflict) && errors.As(err, &we):
		ui.Fail(env.Err, "write failed: "+err.Error())
		ui.Hint(env.Err, "the item changed on the server; run `todosync show "+we.ID+"` and retry")
		return exitcode.Backend
	case errors.As(err, &fe):
		ui.Fail(env.Err, "fetch failed: "+err.Error())
		hintStatus(env, err)
		return exitcode.Backend
	case errors.As(err, &we):
		ui.Fail(env.Err, "write failed: "+err.Error())
		hintStatus(env, err)
		return exitcode.Backend
	case errors.As(err, &se), errors.Is(err, errBackend):
		ui.Fail(env.Err, err.Error())
		hintStatus(env, err)
		return exitcode.Backend
	}
	ui.Fail(env.Err, err.Error())
	return exitcode.Failure
}

func hintStatus(env Env, err error) {
	var se *api.StatusError
	if !errors.As(err, &se) {
		return
	}
	switch se.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		ui.Hint(env.Err, "check your session with `todosync session status`")
	case http.StatusNotFound:
		ui.Hint(env.Err, "run `todosync ls` to see valid ids")
	}
}

var errBackend = errors.New("todo service")

// backend is the per-run wiring of session, client and synchronizer.
type backend struct {
	sess   *session.Session
	client *api.Client
	sync   *synchronizer.Synchronizer
}

func newBackend(env Env) (*backend, error) {
	cfg := env.Config
	sess, err := session.Open(cfg.SessionFile, cfg.Base())
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	client, err := api.New(cfg.BaseURL,
		api.WithHTTPClient(api.NewHTTPClient(cfg.Base(), sess, cfg.CSRFCookie, cfg.CSRFHeader)),
		api.WithLimiter(api.NewLimiter(cfg.RequestsPerSecond, cfg.Burst)),
		api.WithTimeout(cfg.Timeout()),
		api.WithLogger(env.Logger),
	)
	if err != nil {
		return nil, err
	}
	s := synchronizer.New(client,
		synchronizer.WithStaleWriteGuard(cfg.GuardStaleWrites),
		synchronizer.WithLogger(env.Logger),
	)
	return &backend{sess: sess, client: client, sync: s}, nil
}

// withBackend runs fn and saves rotated cookies afterwards.
func withBackend(env Env, fn func(*backend) error) error {
	b, err := newBackend(env)
	if err != nil {
		return err
	}
	runErr := fn(b)
	if err := b.sess.Persist(); err != nil {
		env.Logger.Warn("saving session failed", "err", err)
	}
	return runErr
}

// -------------- subcommand impls ----------------

func doList(ctx context.Context, env Env, b *backend, a []string) error {
	if len(a) != 0 {
		return usagef("usage: todosync ls")
	}
	cfg := env.Config
	if cfg.UserID == "" || cfg.ListID == "" {
		return usagef("ls needs a user and a list: set -user and -list (or user_id/list_id)")
	}
	todos, err := b.client.ListTodos(ctx, cfg.UserID, cfg.ListID)
	if err != nil {
		return fmt.Errorf("%w: list: %w", errBackend, err)
	}
	ui.ListPanel(env.Out, todos, cfg.Group)
	return nil
}

func doShow(ctx context.Context, env Env, b *backend, a []string) error {
	if len(a) != 1 {
		return usagef("usage: todosync show <id>")
	}
	id := strings.TrimSpace(a[0])
	if id == "" {
		return synchronizer.ErrEmptyID
	}
	doc, _, err := b.client.GetTodo(ctx, id)
	if err != nil {
		return &synchronizer.FetchError{ID: id, Err: err}
	}
	ui.Panel(env.Out, showLines(doc.Todo))
	return nil
}

func showLines(td model.Todo) []string {
	t := ui.Current()
	state := ui.C(t.Pending, "open")
	if td.IsFinished {
		state = ui.C(t.Success, "done")
	}
	lines := []string{ui.TodoLine(td), "", ui.C(t.Muted, "state     ") + state}
	if td.FinishedAt != nil {
		lines = append(lines, ui.C(t.Muted, "finished  ")+td.FinishedAt.UTC().Format(model.TimeLayout))
	}
	return lines
}

func doSet(ctx context.Context, env Env, b *backend, a []string, finished bool) error {
	verb := "uncheck"
	if finished {
		verb = "check"
	}
	if len(a) != 1 {
		return usagef("usage: todosync %s <id>", verb)
	}
	td, err := b.sync.SetTodoCompletion(ctx, a[0], finished)
	if err != nil {
		return err
	}
	if td.IsFinished != finished {
		ui.Hint(env.Err, "the server kept a different state")
	}
	state := "open"
	if td.IsFinished {
		state = "done"
	}
	ui.OK(env.Out, fmt.Sprintf("#%s %s", td.ID, state))
	fmt.Fprintln(env.Out, ui.TodoLine(td))
	return nil
}

func doTUI(ctx context.Context, env Env, b *backend, ids []string) error {
	cfg := env.Config
	var load tui.Loader
	switch {
	case len(ids) > 0:
		load = func(ctx context.Context) ([]model.Todo, error) {
			out := make([]model.Todo, 0, len(ids))
			for _, id := range ids {
				doc, _, err := b.client.GetTodo(ctx, id)
				if err != nil {
					return nil, &synchronizer.FetchError{ID: id, Err: err}
				}
				out = append(out, doc.Todo)
			}
			return out, nil
		}
	case cfg.UserID != "" && cfg.ListID != "":
		load = func(ctx context.Context) ([]model.Todo, error) {
			return b.client.ListTodos(ctx, cfg.UserID, cfg.ListID)
		}
	default:
		return usagef("tui needs ids or a list: todosync tui <id...>, or set -user and -list")
	}
	if err := env.RunTUI(ctx, b.sync, load); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func doSession(env Env, a []string) error {
	cfg := env.Config
	if len(a) == 0 {
		return usagef("usage: todosync session set|clear|status")
	}
	switch a[0] {
	case "set":
		if len(a) < 2 {
			return usagef("usage: todosync session set <name=value>...")
		}
		cookies := make([]*http.Cookie, 0, len(a)-1)
		for _, pair := range a[1:] {
			c, err := session.ParsePair(pair)
			if err != nil {
				return usageError{err.Error()}
			}
			cookies = append(cookies, c)
		}
		if err := session.Set(cfg.SessionFile, cfg.Base(), cookies); err != nil {
			return err
		}
		ui.OK(env.Out, fmt.Sprintf("saved %d cookie(s) for %s", len(cookies), cfg.BaseURL))
		return nil

	case "clear":
		if len(a) != 1 {
			return usagef("usage: todosync session clear")
		}
		if err := session.Clear(cfg.SessionFile); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		ui.OK(env.Out, "session cleared")
		return nil

	case "status":
		if len(a) != 1 {
			return usagef("usage: todosync session status")
		}
		sess, err := session.Open(cfg.SessionFile, cfg.Base())
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		ui.Panel(env.Out, statusLines(cfg, sess))
		return nil
	}
	return usagef("unknown session command: %s", a[0])
}

func statusLines(cfg *config.Config, sess *session.Session) []string {
	t := ui.Current()
	src := string(sess.Source)
	switch sess.Source {
	case session.SourceEnv:
		src += " (" + session.EnvCookies + ")"
	case session.SourceFile:
		src += " (" + cfg.SessionFile + ")"
	}
	var names []string
	for _, c := range sess.Cookies(cfg.Base()) {
		names = append(names, c.Name)
	}
	token := ui.C(t.Pending, "missing")
	if _, ok := sess.Lookup(cfg.CSRFCookie); ok {
		token = ui.C(t.Success, "present")
	}
	cookies := strings.Join(names, ", ")
	if cookies == "" {
		cookies = ui.C(t.Muted, "(none)")
	}
	return []string{
		ui.C(t.Title, "Session"),
		"",
		ui.C(t.Muted, "service  ") + cfg.BaseURL,
		ui.C(t.Muted, "source   ") + src,
		ui.C(t.Muted, "cookies  ") + cookies,
		ui.C(t.Muted, "csrf     ") + cfg.CSRFCookie + " " + token,
	}
}

func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `todosync - keep todo checkboxes in sync with the todo service

Usage:
  todosync [flags] <subcommand> [args]

Subcommands:
  ls                        List the configured todolist (-user, -list)
  show <id>                 Show one item
  check <id>                Mark an item finished
  uncheck <id>              Mark an item open
  tui [id...]               Interactive checkbox list
  session set <k=v>...      Save session cookies (e.g. sessionid=... csrftoken=...)
  session clear             Forget saved cookies
  session status            Show where cookies come from
  help                      Show this help

Flags:
  -base-url -user -list -timeout -guard -log-level -log-file -theme -group -config

Environment:
  TODOSYNC_COOKIES="csrftoken=abc; sessionid=xyz" overrides the cookie file.

Examples:
  todosync session set sessionid=abc123 csrftoken=tok
  todosync check 42
  todosync -user 1 -list 3 ls
`)
}
