package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zotero-addons/addons-scraper/internal/config"
	"github.com/zotero-addons/addons-scraper/pkg/catalog"
)

func writeTestCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "addon_infos.json")
	addons := []*catalog.Addon{
		{
			Name: "Addon A",
			Repo: "owner/addon-a",
			Releases: []*catalog.Release{
				{TargetZoteroVersion: "6", TagName: "v1.0.0", DownloadURL: "https://example.com/addon-a-v1.xpi"},
				{TargetZoteroVersion: "7", TagName: "v2.0.0", DownloadURL: "https://example.com/addon-a-v2.xpi"},
			},
		},
		{
			Name: "Addon B",
			Repo: "owner/addon-b",
			Releases: []*catalog.Release{
				{TargetZoteroVersion: "7", TagName: "v1.0.0"},
			},
		},
	}
	require.NoError(t, catalog.WriteFile(path, addons))
	return path
}

func newTestServer(t *testing.T) *Server {
	log := logrus.New()
	log.Out = io.Discard
	return New(log, &config.ServerConfig{
		Stage:               "dev",
		CatalogFile:         writeTestCatalog(t),
		DisableRequestCache: true,
	})
}

func sendRequest(s http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestIndex(t *testing.T) {
	s := newTestServer(t)
	rr := sendRequest(s, "GET", "/")
	require.Equal(t, http.StatusOK, rr.Code)
	var info map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	require.Equal(t, "zotero addons registry", info["service"])
	require.Equal(t, "dev", info["stage"])
}

func TestListAddons(t *testing.T) {
	s := newTestServer(t)
	rr := sendRequest(s, "GET", "/addons")
	require.Equal(t, http.StatusOK, rr.Code)
	var addons []*catalog.Addon
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &addons))
	require.Len(t, addons, 2)
	require.Equal(t, "owner/addon-a", addons[0].Repo)
}

func TestGetAddon(t *testing.T) {
	s := newTestServer(t)
	rr := sendRequest(s, "GET", "/addons/owner/addon-b")
	require.Equal(t, http.StatusOK, rr.Code)
	var addon catalog.Addon
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &addon))
	require.Equal(t, "Addon B", addon.Name)

	rr = sendRequest(s, "GET", "/addons/owner/does-not-exist")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDownloadAddon(t *testing.T) {
	s := newTestServer(t)
	rr := sendRequest(s, "GET", "/download/owner/addon-a/7")
	require.Equal(t, http.StatusFound, rr.Code)
	require.Equal(t, "https://example.com/addon-a-v2.xpi", rr.Header().Get("Location"))

	// release without a download url
	rr = sendRequest(s, "GET", "/download/owner/addon-b/7")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = sendRequest(s, "GET", "/download/owner/addon-a/5")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rr := sendRequest(s, "GET", "/nope")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = sendRequest(s, "POST", "/addons")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMissingCatalogFile(t *testing.T) {
	log := logrus.New()
	log.Out = io.Discard
	s := New(log, &config.ServerConfig{
		CatalogFile:         filepath.Join(t.TempDir(), "missing.json"),
		DisableRequestCache: true,
	})
	rr := sendRequest(s, "GET", "/addons")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRequestCache(t *testing.T) {
	log := logrus.New()
	log.Out = io.Discard
	s := New(log, &config.ServerConfig{CatalogFile: writeTestCatalog(t)})

	rr := sendRequest(s, "GET", "/addons")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("X-Go-Cache"))

	rr = sendRequest(s, "GET", "/addons")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "HIT", rr.Header().Get("X-Go-Cache"))
}
