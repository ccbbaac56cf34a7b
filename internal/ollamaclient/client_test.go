package ollamaclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListParsesCatalogIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []Entry{
				{Name: "tiny-model", URL: "http://example.com/tiny-model.rkllm", SizeBytes: 1024, ContextLen: 4096},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	entries, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tiny-model", entries[0].Name)
	assert.Equal(t, 4096, entries[0].ContextLen)
}

func TestListReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.List(context.Background())
	assert.Error(t, err)
}

func TestDownloadWritesArtifactUnderModelFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("rkllm-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	dest := t.TempDir()
	entry := Entry{Name: "tiny-model", URL: srv.URL + "/artifact"}

	path, err := c.Download(context.Background(), entry, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "tiny-model", "tiny-model.rkllm"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rkllm-bytes", string(data))
}

func TestDownloadReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Download(context.Background(), Entry{Name: "x", URL: srv.URL}, t.TempDir())
	assert.Error(t, err)
}
