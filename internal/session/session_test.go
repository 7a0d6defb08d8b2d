package session

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestParseCookieString(t *testing.T) {
	got := ParseCookieString(" sessionid=xyz ; csrftoken=abc%20123;junk; =nope; a=b=c")
	require.Len(t, got, 3)
	assert.Equal(t, "sessionid", got[0].Name)
	assert.Equal(t, "xyz", got[0].Value)
	assert.Equal(t, "csrftoken", got[1].Name)
	assert.Equal(t, "abc 123", got[1].Value)
	assert.Equal(t, "a", got[2].Name)
	assert.Equal(t, "b=c", got[2].Value)
}

func TestParsePair_Malformed(t *testing.T) {
	_, err := ParsePair("novalue")
	assert.Error(t, err)
}

func TestOpen_EnvOverridesFile(t *testing.T) {
	base := mustURL(t, "http://todo.example.com")
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, Set(path, base, []*http.Cookie{{Name: "csrftoken", Value: "fromfile"}}))

	t.Setenv(EnvCookies, "csrftoken=fromenv")
	s, err := Open(path, base)
	require.NoError(t, err)
	assert.Equal(t, SourceEnv, s.Source)

	v, ok := s.Lookup("csrftoken")
	require.True(t, ok)
	assert.Equal(t, "fromenv", v)
}

func TestOpen_File(t *testing.T) {
	t.Setenv(EnvCookies, "")
	base := mustURL(t, "http://todo.example.com")
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, Set(path, base, []*http.Cookie{{Name: "csrftoken", Value: "abc"}}))
	require.NoError(t, Set(path, base, []*http.Cookie{{Name: "sessionid", Value: "s1"}, {Name: "csrftoken", Value: "def"}}))

	s, err := Open(path, base)
	require.NoError(t, err)
	assert.Equal(t, SourceFile, s.Source)

	v, ok := s.Lookup("csrftoken")
	require.True(t, ok)
	assert.Equal(t, "def", v)
	_, ok = s.Lookup("sessionid")
	assert.True(t, ok)

	api := mustURL(t, "http://todo.example.com/api/todo/1/")
	assert.Len(t, s.Cookies(api), 2)
}

func TestOpen_IgnoresOtherBase(t *testing.T) {
	t.Setenv(EnvCookies, "")
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, Set(path, mustURL(t, "http://a.example.com"), []*http.Cookie{{Name: "csrftoken", Value: "abc"}}))

	s, err := Open(path, mustURL(t, "http://b.example.com"))
	require.NoError(t, err)
	assert.Equal(t, SourceNone, s.Source)
	_, ok := s.Lookup("csrftoken")
	assert.False(t, ok)
}

func TestPersist(t *testing.T) {
	t.Setenv(EnvCookies, "")
	base := mustURL(t, "http://todo.example.com")
	path := filepath.Join(t.TempDir(), "cookies.json")

	s, err := Open(path, base)
	require.NoError(t, err)
	require.NoError(t, s.Persist())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "empty session is not written")

	s.Jar.SetCookies(base, []*http.Cookie{{Name: "csrftoken", Value: "rotated", Path: "/"}})
	require.NoError(t, s.Persist())

	again, err := Open(path, base)
	require.NoError(t, err)
	v, _ := again.Lookup("csrftoken")
	assert.Equal(t, "rotated", v)
}

func TestPersist_EnvNeverWritten(t *testing.T) {
	t.Setenv(EnvCookies, "csrftoken=abc")
	path := filepath.Join(t.TempDir(), "cookies.json")
	s, err := Open(path, mustURL(t, "http://todo.example.com"))
	require.NoError(t, err)
	require.NoError(t, s.Persist())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClear(t *testing.T) {
	base := mustURL(t, "http://todo.example.com")
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, Set(path, base, []*http.Cookie{{Name: "a", Value: "b"}}))
	require.NoError(t, Clear(path))
	require.NoError(t, Clear(path))
}
