package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fiffu/feedrelay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(config.Default(), http.DefaultTransport)
}

func TestFetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte("<rss/>"))
	}))
	defer srv.Close()

	resp, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/rss+xml", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<rss/>", string(resp.Body))
}

func TestFetch_StatusKinds(t *testing.T) {
	for _, tc := range []struct {
		status int
		kind   Kind
	}{
		{http.StatusNotFound, ClientError},
		{http.StatusGone, ClientError},
		{http.StatusBadGateway, ServerError},
		{http.StatusServiceUnavailable, ServerError},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
		var fe *Error
		require.ErrorAs(t, err, &fe, "status %d", tc.status)
		assert.Equal(t, tc.kind, fe.Kind)
		assert.Equal(t, tc.status, fe.Status)
		assert.Equal(t, tc.kind, KindOf(err))
		srv.Close()
	}
}

func TestFetch_RefusesNonHTTP(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), "ftp://example.com/feed.xml")
	assert.Equal(t, ClientError, KindOf(err))
}

func TestFetch_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), addr)
	require.Error(t, err)
	assert.Equal(t, Transient, KindOf(err))
}

func TestFetch_FollowsLimitedRedirects(t *testing.T) {
	hops := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/loop" {
			http.Redirect(w, r, srv.URL+"/loop", http.StatusFound)
			return
		}
		if hops < 3 {
			hops++
			http.Redirect(w, r, srv.URL+"/hop", http.StatusMovedPermanently)
			return
		}
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	resp, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, srv.URL+"/hop", resp.URL)

	_, err = newTestFetcher().Fetch(context.Background(), srv.URL+"/loop")
	assert.Equal(t, ClientError, KindOf(err))
}

func TestFetch_CapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", MaxBodyBytes+1024)))
	}))
	defer srv.Close()

	resp, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, resp.Body, MaxBodyBytes)
}

func TestResponse_ReaderDecodesCharset(t *testing.T) {
	resp := &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/xml; charset=iso-8859-1"}},
		Body:   []byte("caf\xe9"),
	}
	r, err := resp.Reader()
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "café", string(b))
}
