package catalog

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAddons() []*Addon {
	return []*Addon{
		{
			Name: "Addon B",
			Repo: "owner/addon-b",
			Releases: []*Release{
				{TargetZoteroVersion: "7", TagName: "v2.0.0"},
				{TargetZoteroVersion: "6", TagName: "v1.0.0"},
			},
		},
		{
			Name: "Addon A",
			Repo: "owner/addon-a",
			Releases: []*Release{
				{
					TargetZoteroVersion: "7",
					TagName:             "v1.2.0",
					CurrentVersion:      "1.2.0",
					DownloadURL:         "https://example.com/addon-a.xpi",
					XpiInfo:             &XpiInfo{ID: "a@example.com", Name: "Addon A", CurrentVersion: "1.2.0"},
				},
			},
			Star:   42,
			Author: &Author{Name: "Jamie"},
		},
	}
}

func TestSort(t *testing.T) {
	addons := testAddons()
	Sort(addons)
	require.Equal(t, "owner/addon-a", addons[0].Repo)
	require.Equal(t, "owner/addon-b", addons[1].Repo)
	require.Equal(t, "6", addons[1].Releases[0].TargetZoteroVersion)
	require.Equal(t, "7", addons[1].Releases[1].TargetZoteroVersion)
}

func TestEncodeIsDeterministic(t *testing.T) {
	addons := testAddons()
	Sort(addons)
	var first, second bytes.Buffer
	require.NoError(t, Encode(&first, addons))
	require.NoError(t, Encode(&second, addons))
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []*Addon{{Name: "Minimal", Repo: "owner/minimal", Releases: []*Release{
		{TargetZoteroVersion: "7", TagName: "v1.0.0"},
	}}}))
	out := buf.String()
	require.NotContains(t, out, "star")
	require.NotContains(t, out, "author")
	require.NotContains(t, out, "xpiInfo")
	require.NotContains(t, out, "assetId")
	require.Contains(t, out, `"targetZoteroVersion":"7"`)
}

func TestWriteAndLoadFile(t *testing.T) {
	addons := testAddons()
	Sort(addons)
	path := filepath.Join(t.TempDir(), "addon_infos.json")
	require.NoError(t, WriteFile(path, addons))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, addons, loaded)
}

func TestFetch(t *testing.T) {
	addons := testAddons()
	Sort(addons)
	var doc bytes.Buffer
	require.NoError(t, Encode(&doc, addons))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, bytes.NewReader(doc.Bytes()))
	}))
	defer ts.Close()

	fetched, err := Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	require.Equal(t, addons, fetched)
}

func TestFetchBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()
	_, err := Fetch(context.Background(), ts.URL)
	require.Error(t, err)
}
