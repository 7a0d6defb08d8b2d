// Package testutil provides an in-process fake of the todo service.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// Request is one request the fake received.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// FakeAPI serves /api/todo/{id}/ and /api/user/{u}/todolist/{l} from memory.
// Exported fields may be set before requests are made.
type FakeAPI struct {
	Server *httptest.Server

	// ETags makes GET send ETag and PUT honor If-Match.
	ETags bool
	// RequireCSRF rejects writes whose X-CSRFToken differs, with 403.
	RequireCSRF string
	// EmptyPut answers writes with 204 and no body.
	EmptyPut bool
	// Flat serves items without the {"todo": ...} envelope.
	Flat bool
	// SetCookie is sent as Set-Cookie on every response when non-nil.
	SetCookie *http.Cookie

	mu       sync.Mutex
	todos    map[string]map[string]any
	versions map[string]int
	lists    map[string][]string
	failures map[string]int
	requests []Request
}

// NewFakeAPI starts the fake and closes it when the test ends.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		todos:    map[string]map[string]any{},
		versions: map[string]int{},
		lists:    map[string][]string{},
		failures: map[string]int{},
	}
	r := mux.NewRouter()
	r.HandleFunc("/api/todo/{id}/", f.getTodo).Methods(http.MethodGet)
	r.HandleFunc("/api/todo/{id}/", f.putTodo).Methods(http.MethodPut)
	r.HandleFunc("/api/user/{user}/todolist/{list}", f.getList).Methods(http.MethodGet)
	r.Use(f.record)
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the fake's base URL.
func (f *FakeAPI) URL() string { return f.Server.URL }

// AddTodo stores an item. finished items get a fixed finished_at.
func (f *FakeAPI) AddTodo(id string, isFinished bool, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var finishedAt any
	if isFinished {
		finishedAt = "2024-01-01T00:00:00.000Z"
	}
	var wireID any = id
	if n, err := strconv.Atoi(id); err == nil {
		wireID = n
	}
	f.todos[id] = map[string]any{
		"id":          wireID,
		"description": description,
		"created_at":  "Mon, 01 Jan 2024 00:00:00 GMT",
		"is_finished": isFinished,
		"finished_at": finishedAt,
	}
	f.versions[id] = 1
}

// AddList registers a todolist of existing item ids.
func (f *FakeAPI) AddList(userID, listID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[userID+"/"+listID] = ids
}

// Fail makes method on item id answer with status. Zero clears it.
func (f *FakeAPI) Fail(method, id string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, method+" "+id)
		return
	}
	f.failures[method+" "+id] = status
}

// Edit changes an item behind the client's back, bumping its version.
func (f *FakeAPI) Edit(id string, fn func(todo map[string]any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.todos[id])
	f.versions[id]++
}

// Todo returns a copy of the stored item.
func (f *FakeAPI) Todo(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]any{}
	for k, v := range f.todos[id] {
		out[k] = v
	}
	return out
}

// Requests returns every request received so far.
func (f *FakeAPI) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// RequestsFor filters Requests by method.
func (f *FakeAPI) RequestsFor(method string) []Request {
	var out []Request
	for _, r := range f.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		f.mu.Lock()
		f.requests = append(f.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		cookie := f.SetCookie
		f.mu.Unlock()
		if cookie != nil {
			http.SetCookie(w, cookie)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) getTodo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	defer f.mu.Unlock()

	if status := f.failures[http.MethodGet+" "+id]; status != 0 {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	todo, ok := f.todos[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	if f.ETags {
		w.Header().Set("ETag", etag(f.versions[id]))
	}
	if f.Flat {
		writeJSON(w, http.StatusOK, todo)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"todo": todo})
}

func (f *FakeAPI) putTodo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f.mu.Lock()
	defer f.mu.Unlock()

	if status := f.failures[http.MethodPut+" "+id]; status != 0 {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	if f.RequireCSRF != "" && r.Header.Get("X-CSRFToken") != f.RequireCSRF {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden"})
		return
	}
	if _, ok := f.todos[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	if f.ETags {
		if m := r.Header.Get("If-Match"); m != "" && m != etag(f.versions[id]) {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "Precondition Failed"})
			return
		}
	}
	var doc struct {
		Todo map[string]any `json:"todo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc.Todo == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}
	f.todos[id] = doc.Todo
	f.versions[id]++

	if f.EmptyPut {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if f.ETags {
		w.Header().Set("ETag", etag(f.versions[id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"todo": doc.Todo})
}

func (f *FakeAPI) getList(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, ok := f.lists[vars["user"]+"/"+vars["list"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	todos := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		todos = append(todos, f.todos[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"todos": todos})
}

func etag(version int) string {
	return fmt.Sprintf(`"v%d"`, version)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
