package cli

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/todosync/internal/config"
	"github.com/idilsaglam/todosync/internal/exitcode"
	"github.com/idilsaglam/todosync/internal/model"
	"github.com/idilsaglam/todosync/internal/session"
	"github.com/idilsaglam/todosync/internal/testutil"
	"github.com/idilsaglam/todosync/internal/tui"
)

type harness struct {
	fake *testutil.FakeAPI
	cfg  *config.Config
	out  bytes.Buffer
	err  bytes.Buffer
	tui  func(ctx context.Context, s tui.Syncer, load tui.Loader) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv(session.EnvCookies, "")
	fake := testutil.NewFakeAPI(t)
	cfg := config.Defaults()
	cfg.BaseURL = fake.URL()
	cfg.SessionFile = filepath.Join(t.TempDir(), "cookies.json")
	cfg.RequestsPerSecond = 0
	return &harness{fake: fake, cfg: cfg}
}

func (h *harness) run(args ...string) int {
	h.out.Reset()
	h.err.Reset()
	return Run(context.Background(), args, Env{
		Out:    &h.out,
		Err:    &h.err,
		Config: h.cfg,
		RunTUI: h.tui,
	})
}

func TestHelpAndUsage(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitcode.Success, h.run("help"))
	assert.Contains(t, h.out.String(), "Subcommands:")

	assert.Equal(t, exitcode.Usage, h.run())
	assert.Contains(t, h.err.String(), "Usage:")

	assert.Equal(t, exitcode.Usage, h.run("frobnicate"))
	assert.Contains(t, h.err.String(), "unknown subcommand: frobnicate")

	assert.Equal(t, exitcode.Usage, h.run("check"))
	assert.Equal(t, exitcode.Usage, h.run("check", " "))
	assert.Empty(t, h.fake.Requests())
}

func TestCheck_UsesSavedSession(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTodo("42", false, "buy milk")
	h.fake.RequireCSRF = "tok"

	require.Equal(t, exitcode.Success, h.run("session", "set", "sessionid=s1", "csrftoken=tok"))
	require.Equal(t, exitcode.Success, h.run("check", "42"), h.err.String())
	assert.Contains(t, h.out.String(), "#42 done")
	assert.Equal(t, true, h.fake.Todo("42")["is_finished"])

	puts := h.fake.RequestsFor(http.MethodPut)
	require.Len(t, puts, 1)
	assert.Equal(t, "tok", puts[0].Header.Get("X-CSRFToken"))

	require.Equal(t, exitcode.Success, h.run("uncheck", "42"), h.err.String())
	assert.Contains(t, h.out.String(), "#42 open")
	assert.Nil(t, h.fake.Todo("42")["finished_at"])
}

func TestCheck_SavesRotatedCookies(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTodo("42", false, "buy milk")
	require.Equal(t, exitcode.Success, h.run("session", "set", "csrftoken=old"))

	h.fake.SetCookie = &http.Cookie{Name: "csrftoken", Value: "new", Path: "/"}
	require.Equal(t, exitcode.Success, h.run("check", "42"), h.err.String())

	sess, err := session.Open(h.cfg.SessionFile, h.cfg.Base())
	require.NoError(t, err)
	v, ok := sess.Lookup("csrftoken")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestCheck_FetchFailed(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTodo("42", false, "buy milk")
	h.fake.Fail(http.MethodGet, "42", http.StatusInternalServerError)

	assert.Equal(t, exitcode.Backend, h.run("check", "42"))
	assert.Contains(t, h.err.String(), "fetch failed")
	assert.Empty(t, h.fake.RequestsFor(http.MethodPut))
}

func TestCheck_NotFoundHint(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitcode.Backend, h.run("check", "9"))
	assert.Contains(t, h.err.String(), "fetch failed")
	assert.Contains(t, h.err.String(), "todosync ls")
}

func TestCheck_WriteFailed(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTodo("42", false, "buy milk")
	h.fake.RequireCSRF = "tok"

	assert.Equal(t, exitcode.Backend, h.run("check", "42"))
	assert.Contains(t, h.err.String(), "write failed")
	assert.Contains(t, h.err.String(), "session status")
	assert.Equal(t, false, h.fake.Todo("42")["is_finished"])
}

func TestShow(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTodo("7", true, "walk dog")

	require.Equal(t, exitcode.Success, h.run("show", "7"), h.err.String())
	out := h.out.String()
	assert.Contains(t, out, "walk dog")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "2024-01-01T00:00:00.000Z")

	assert.Equal(t, exitcode.Usage, h.run("show"))
}

func TestList(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTodo("1", false, "buy milk")
	h.fake.AddTodo("2", true, "walk dog")
	h.fake.AddList("u1", "l1", "1", "2")

	assert.Equal(t, exitcode.Usage, h.run("ls"))
	assert.Contains(t, h.err.String(), "-user")

	h.cfg.UserID, h.cfg.ListID = "u1", "l1"
	require.Equal(t, exitcode.Success, h.run("ls"), h.err.String())
	assert.Contains(t, h.out.String(), "buy milk")
	assert.Contains(t, h.out.String(), "walk dog")

	h.cfg.Group = true
	require.Equal(t, exitcode.Success, h.run("ls"))
	assert.Contains(t, h.out.String(), "Pending")

	h.cfg.ListID = "missing"
	assert.Equal(t, exitcode.Backend, h.run("ls"))
}

func TestTUI_Loaders(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTodo("1", false, "buy milk")
	h.fake.AddTodo("2", true, "walk dog")
	h.fake.AddList("u1", "l1", "2")

	var got []model.Todo
	h.tui = func(ctx context.Context, s tui.Syncer, load tui.Loader) error {
		require.NotNil(t, s)
		todos, err := load(ctx)
		require.NoError(t, err)
		got = todos
		return nil
	}

	assert.Equal(t, exitcode.Usage, h.run("tui"))

	require.Equal(t, exitcode.Success, h.run("tui", "1", "2"))
	require.Len(t, got, 2)
	assert.Equal(t, "buy milk", got[0].Description)

	h.cfg.UserID, h.cfg.ListID = "u1", "l1"
	require.Equal(t, exitcode.Success, h.run("tui"))
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestSession(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, exitcode.Usage, h.run("session"))
	assert.Equal(t, exitcode.Usage, h.run("session", "set", "novalue"))
	assert.Equal(t, exitcode.Usage, h.run("session", "rotate"))

	require.Equal(t, exitcode.Success, h.run("session", "status"))
	assert.Contains(t, h.out.String(), "none")
	assert.Contains(t, h.out.String(), "missing")

	require.Equal(t, exitcode.Success, h.run("session", "set", "csrftoken=abc"))
	require.Equal(t, exitcode.Success, h.run("session", "status"))
	assert.Contains(t, h.out.String(), "file")
	assert.Contains(t, h.out.String(), "present")

	t.Setenv(session.EnvCookies, "sessionid=zzz")
	require.Equal(t, exitcode.Success, h.run("session", "status"))
	assert.Contains(t, h.out.String(), session.EnvCookies)
	assert.Contains(t, h.out.String(), "sessionid")
	t.Setenv(session.EnvCookies, "")

	require.Equal(t, exitcode.Success, h.run("session", "clear"))
	require.Equal(t, exitcode.Success, h.run("session", "status"))
	assert.Contains(t, h.out.String(), "none")
}
