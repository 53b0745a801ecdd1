package net

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "p1", r.URL.Query().Get("entity"))
		assert.Equal(t, "g1", r.URL.Query().Get("occurrence"))
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer")
		w.Write([]byte(`{"features":{"minutes":30.5,"usage":0.2}}`))
	}))
	defer srv.Close()

	s := NewSources(context.Background(), "test-token", srv.URL, "", "")
	fv, err := s.GetFeatures(context.Background(), "p1", "g1")
	require.NoError(t, err)
	assert.Equal(t, 30.5, fv["minutes"])
	assert.Equal(t, 0.2, fv["usage"])
}

func TestGetLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("entity") {
		case "p1":
			w.Write([]byte(`{"line":22.5}`))
		case "p2":
			w.Write([]byte(`{"line":null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewSources(context.Background(), "test-token", "", srv.URL, "")

	line, err := s.GetLine(context.Background(), "p1", "g1")
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, 22.5, *line)

	// posted payload with no line yet
	line, err = s.GetLine(context.Background(), "p2", "g1")
	require.NoError(t, err)
	assert.Nil(t, line)

	// nothing posted at all: nil line, nil error
	line, err = s.GetLine(context.Background(), "p9", "g1")
	require.NoError(t, err)
	assert.Nil(t, line)
}

func TestGetOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "g1", r.URL.Query().Get("occurrence"))
		w.Write([]byte(`{"outcomes":{"p1":26,"p2":15}}`))
	}))
	defer srv.Close()

	s := NewSources(context.Background(), "test-token", "", "", srv.URL)
	out, err := s.GetOutcomes(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 26.0, out["p1"])
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"features":{"minutes":30}}`))
	}))
	defer srv.Close()

	s := NewSources(context.Background(), "test-token", srv.URL, "", "")
	fv, err := s.GetFeatures(context.Background(), "p1", "g1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, fv["minutes"])
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestGetJSON_BadStatusIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSources(context.Background(), "test-token", srv.URL, "", "")
	_, err := s.GetFeatures(context.Background(), "p1", "g1")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors do not retry")
}

func TestSources_Unconfigured(t *testing.T) {
	s := NewSources(context.Background(), "test-token", "", "", "")

	_, err := s.GetFeatures(context.Background(), "p1", "g1")
	assert.Error(t, err)
	_, err = s.GetLine(context.Background(), "p1", "g1")
	assert.Error(t, err)
	_, err = s.GetOutcomes(context.Background(), "g1")
	assert.Error(t, err)
}
