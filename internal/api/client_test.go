package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idilsaglam/todosync/internal/model"
	"github.com/idilsaglam/todosync/internal/session"
	"github.com/idilsaglam/todosync/internal/testutil"
)

func newClient(t *testing.T, fake *testutil.FakeAPI, opts ...Option) *Client {
	t.Helper()
	c, err := New(fake.URL(), opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsRelative(t *testing.T) {
	_, err := New("/api")
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/api/todo/42/", TodoPath("42"))
	assert.Equal(t, "/api/todo/a%2Fb/", TodoPath("a/b"))
	assert.Equal(t, "/api/user/1/todolist/2", ListPath("1", "2"))
}

func TestGetTodo(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.ETags = true
	fake.AddTodo("42", false, "buy milk")

	doc, meta, err := newClient(t, fake).GetTodo(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", doc.Todo.ID)
	assert.Equal(t, "buy milk", doc.Todo.Description)
	assert.Equal(t, `"v1"`, meta.ETag)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/todo/42/", reqs[0].Path)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Accept"))
	assert.Equal(t, meta.RequestID, reqs[0].Header.Get("X-Request-ID"))
}

func TestGetTodo_NotFound(t *testing.T) {
	fake := testutil.NewFakeAPI(t)

	_, _, err := newClient(t, fake).GetTodo(context.Background(), "404")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.Contains(t, se.Error(), "404 Not Found")
}

func TestGetTodo_FlatBodyRejected(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.Flat = true
	fake.AddTodo("1", false, "x")

	_, _, err := newClient(t, fake).GetTodo(context.Background(), "1")
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPutTodo(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.AddTodo("42", false, "buy milk")
	c := newClient(t, fake)
	ctx := context.Background()

	doc, _, err := c.GetTodo(ctx, "42")
	require.NoError(t, err)
	doc.Todo.SetCompletion(true, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC))

	echo, err := c.PutTodo(ctx, "42", doc, PutOptions{IfMatch: `"v1"`})
	require.NoError(t, err)
	require.NotNil(t, echo)
	assert.True(t, echo.Todo.IsFinished)

	put := fake.RequestsFor(http.MethodPut)
	require.Len(t, put, 1)
	assert.Equal(t, "application/json", put[0].Header.Get("Content-Type"))
	assert.Equal(t, `"v1"`, put[0].Header.Get("If-Match"))

	var sent map[string]map[string]any
	require.NoError(t, json.Unmarshal(put[0].Body, &sent))
	assert.Equal(t, true, sent["todo"]["is_finished"])
	assert.Equal(t, "2024-02-03T04:05:06.000Z", sent["todo"]["finished_at"])
	assert.Equal(t, "Mon, 01 Jan 2024 00:00:00 GMT", sent["todo"]["created_at"])
}

func TestPutTodo_EmptyResponse(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.EmptyPut = true
	fake.AddTodo("1", false, "x")
	c := newClient(t, fake)

	doc, _, err := c.GetTodo(context.Background(), "1")
	require.NoError(t, err)
	echo, err := c.PutTodo(context.Background(), "1", doc, PutOptions{})
	require.NoError(t, err)
	assert.Nil(t, echo)
}

func TestPutTodo_PreconditionFailed(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.ETags = true
	fake.AddTodo("1", false, "x")
	c := newClient(t, fake)

	doc, _, err := c.GetTodo(context.Background(), "1")
	require.NoError(t, err)
	_, err = c.PutTodo(context.Background(), "1", doc, PutOptions{IfMatch: `"v0"`})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestListTodos(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.AddTodo("1", false, "one")
	fake.AddTodo("2", true, "two")
	fake.AddList("7", "3", "1", "2")

	todos, err := newClient(t, fake).ListTodos(context.Background(), "7", "3")
	require.NoError(t, err)
	require.Len(t, todos, 2)
	assert.Equal(t, "one", todos[0].Description)
	assert.True(t, todos[1].IsFinished)
	assert.NotNil(t, todos[1].FinishedAt)
}

func TestNewHTTPClient_CSRF(t *testing.T) {
	t.Setenv(session.EnvCookies, "csrftoken=abc123; sessionid=s1")
	fake := testutil.NewFakeAPI(t)
	fake.RequireCSRF = "abc123"
	fake.AddTodo("42", false, "x")

	c := newClient(t, fake)
	sess, err := session.Open(filepath.Join(t.TempDir(), "cookies.json"), c.base)
	require.NoError(t, err)
	c.http = NewHTTPClient(c.base, sess, "csrftoken", "X-CSRFToken")

	doc, _, err := c.GetTodo(context.Background(), "42")
	require.NoError(t, err)
	_, err = c.PutTodo(context.Background(), "42", doc, PutOptions{})
	require.NoError(t, err)

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Header.Get("X-CSRFToken"), "GET never carries the token")
	assert.Equal(t, "abc123", reqs[1].Header.Get("X-CSRFToken"))
	assert.Contains(t, reqs[1].Header.Get("Cookie"), "sessionid=s1")
}

func TestLimiter_ContextCancelled(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.AddTodo("1", false, "x")
	lim := NewLimiter(0.001, 1)
	require.NotNil(t, lim)
	c := newClient(t, fake, WithLimiter(lim))

	_, _, err := c.GetTodo(context.Background(), "1")
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = c.GetTodo(ctx, "1")
	assert.Error(t, err)
	assert.Len(t, fake.Requests(), 1)
}

func TestNewLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 5))
}

func TestTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c, err := New(slow.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, _, err = c.GetTodo(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
