package request

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%s %s", r.Method, r.URL.RawQuery)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "%s|%s", r.Header.Get("Content-Type"), r.PostForm.Encode())
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/referer", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Header.Get("Referer"))
	})
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/hop/"), "%d", &n)
		if n == 0 {
			http.Redirect(w, r, "/referer", http.StatusFound)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n-1), http.StatusFound)
	})
	mux.HandleFunc("/gzip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write([]byte("compressed gzip"))
		zw.Close()
	})
	mux.HandleFunc("/zstd", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		zw, _ := zstd.NewWriter(w)
		zw.Write([]byte("compressed zstd"))
		zw.Close()
	})
	mux.HandleFunc("/set-cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/", MaxAge: 3600})
		fmt.Fprint(w, "set")
	})
	mux.HandleFunc("/get-cookie", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil {
			fmt.Fprint(w, "none")
			return
		}
		fmt.Fprint(w, c.Value)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func perform(t *testing.T, op *Operation) ([]byte, Meta, error) {
	t.Helper()
	err := op.Perform(testContext(t))
	body, meta, resultErr := op.Result()
	if resultErr != err {
		t.Fatalf("Result() error %v does not match Perform() error %v", resultErr, err)
	}
	return body, meta, err
}

func TestOperation_PerformGet(t *testing.T) {
	server := newTestServer(t)
	b := NewBuilder(DefaultConfig())

	op := b.Build(server.URL+"/ok", Values{"a": 1}, "GET", NoCookie())
	body, meta, err := perform(t, op)
	require.NoError(t, err)

	assert.Equal(t, "GET a=1", string(body))
	assert.Equal(t, http.StatusOK, meta.StatusCode)
	assert.Equal(t, "text/plain", meta.ContentType)
	assert.Equal(t, 1, meta.Attempts)
	assert.Equal(t, op.ID(), meta.ID)
	assert.Equal(t, StateCompleted, op.State())
	require.NoError(t, op.Release())
}

func TestOperation_PerformPostForm(t *testing.T) {
	server := newTestServer(t)
	b := NewBuilder(DefaultConfig())

	op := b.Build(server.URL+"/echo", Values{"b": "x y", "a": "1"}, "POST", NoCookie())
	body, _, err := perform(t, op)
	require.NoError(t, err)
	assert.Equal(t, "application/x-www-form-urlencoded|a=1&b=x+y", string(body))
	require.NoError(t, op.Release())
}

func TestOperation_FailOnError(t *testing.T) {
	server := newTestServer(t)
	b := NewBuilder(DefaultConfig())

	op := b.Build(server.URL+"/missing", nil, "GET", NoCookie())
	body, meta, err := perform(t, op)
	require.Error(t, err)
	assert.Nil(t, body)
	assert.Equal(t, http.StatusNotFound, meta.StatusCode)
	assert.Equal(t, ErrorClassClient, ClassOf(err))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	require.NoError(t, op.Release())

	op = b.Build(server.URL+"/missing", nil, "GET", NoCookie(), WithFailOnError(false))
	body, _, err = perform(t, op)
	require.NoError(t, err)
	assert.Equal(t, "nope\n", string(body))
	require.NoError(t, op.Release())
}

func TestOperation_EmptyBodyIsNotNil(t *testing.T) {
	server := newTestServer(t)
	op := NewBuilder(DefaultConfig()).Build(server.URL+"/empty", nil, "GET", NoCookie())

	body, _, err := perform(t, op)
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Empty(t, body)
	require.NoError(t, op.Release())
}

func TestOperation_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	op := NewBuilder(DefaultConfig()).Build(url+"/gone", nil, "GET", NoCookie())
	_, _, err := perform(t, op)
	require.Error(t, err)
	assert.Equal(t, ErrorClassNetwork, ClassOf(err))
	require.NoError(t, op.Release())
}

func TestOperation_Redirects(t *testing.T) {
	server := newTestServer(t)
	b := NewBuilder(DefaultConfig())

	t.Run("within limit sets referer", func(t *testing.T) {
		op := b.Build(server.URL+"/hop/1", nil, "GET", NoCookie())
		body, meta, err := perform(t, op)
		require.NoError(t, err)
		assert.Equal(t, server.URL+"/hop/0", string(body))
		assert.Equal(t, 2, meta.RedirectCount)
		assert.Equal(t, server.URL+"/referer", meta.EffectiveURL)
		require.NoError(t, op.Release())
	})

	t.Run("over limit fails", func(t *testing.T) {
		op := b.Build(server.URL+"/hop/5", nil, "GET", NoCookie())
		_, _, err := perform(t, op)
		require.Error(t, err)
		assert.Equal(t, ErrorClassNetwork, ClassOf(err))
		require.NoError(t, op.Release())
	})

	t.Run("disabled returns the redirect", func(t *testing.T) {
		op := b.Build(server.URL+"/hop/0", nil, "GET", NoCookie(), WithFollowRedirects(false))
		_, meta, err := perform(t, op)
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, meta.StatusCode)
		assert.Equal(t, 0, meta.RedirectCount)
		require.NoError(t, op.Release())
	})
}

func TestOperation_HeadCapturesHeaders(t *testing.T) {
	server := newTestServer(t)
	op := NewBuilder(DefaultConfig()).Build(server.URL+"/ok", nil, "HEAD", NoCookie())

	body, _, err := perform(t, op)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("HTTP/1.1 200 OK")), string(body))
	assert.Contains(t, string(body), "Content-Type: text/plain")
	require.NoError(t, op.Release())
}

func TestOperation_DecodesContentEncoding(t *testing.T) {
	server := newTestServer(t)
	b := NewBuilder(DefaultConfig())

	for _, enc := range []string{"gzip", "zstd"} {
		op := b.Build(server.URL+"/"+enc, nil, "GET", NoCookie())
		body, _, err := perform(t, op)
		require.NoError(t, err, enc)
		assert.Equal(t, "compressed "+enc, string(body))
		require.NoError(t, op.Release())
	}
}

func TestOperation_ReperformReplacesResult(t *testing.T) {
	server := newTestServer(t)
	op := NewBuilder(DefaultConfig()).Build(server.URL+"/ok", nil, "GET", NoCookie())

	_, _, err := perform(t, op)
	require.NoError(t, err)
	body, meta, err := perform(t, op)
	require.NoError(t, err)

	assert.Equal(t, "GET ", string(body))
	assert.Equal(t, 2, meta.Attempts)
	require.NoError(t, op.Release())
}

func TestOperation_ReleaseOnce(t *testing.T) {
	server := newTestServer(t)
	op := NewBuilder(DefaultConfig()).Build(server.URL+"/ok", nil, "GET", NoCookie())

	require.NoError(t, op.Release())
	assert.Equal(t, StateReleased, op.State())
	assert.ErrorIs(t, op.Release(), ErrReleased)
	assert.ErrorIs(t, op.Perform(testContext(t)), ErrReleased)

	var nilOp *Operation
	assert.ErrorIs(t, nilOp.Release(), ErrReleased)
	assert.False(t, nilOp.Pending())
}

func TestOperation_CookieJarPersists(t *testing.T) {
	server := newTestServer(t)
	dir := t.TempDir()
	jarPath := filepath.Join(dir, "jar.txt")
	b := NewBuilder(DefaultConfig())

	op := b.Build(server.URL+"/set-cookie", nil, "GET", CookieFile(jarPath))
	_, _, err := perform(t, op)
	require.NoError(t, err)
	require.NoError(t, op.Release())

	_, err = os.Stat(jarPath)
	require.NoError(t, err, "jar file written on release")

	op = b.Build(server.URL+"/get-cookie", nil, "GET", CookieFile(jarPath))
	body, _, err := perform(t, op)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))
	require.NoError(t, op.Release())
}
