package addonspec

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(`{
		"name": "Better BibTeX",
		"repo": "retorquere/zotero-better-bibtex",
		"releases": [
			{"targetZoteroVersion": "6", "tagName": "v6.7.140"},
			{"targetZoteroVersion": "7", "tagName": "latest"}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, "Better BibTeX", spec.Name)
	require.Equal(t, "retorquere", spec.Owner())
	require.Equal(t, "zotero-better-bibtex", spec.RepoName())
	require.Len(t, spec.Releases, 2)
	require.Equal(t, "latest", spec.Releases[1].TagName)
}

func TestParseInvalid(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing repo", `{"releases": [{"targetZoteroVersion": "7", "tagName": "latest"}]}`},
		{"empty releases", `{"repo": "owner/repo", "releases": []}`},
		{"bad repo format", `{"repo": "just-a-name", "releases": [{"targetZoteroVersion": "7", "tagName": "latest"}]}`},
		{"bad target version", `{"repo": "owner/repo", "releases": [{"targetZoteroVersion": "5", "tagName": "latest"}]}`},
		{"empty tag", `{"repo": "owner/repo", "releases": [{"targetZoteroVersion": "7", "tagName": ""}]}`},
		{"duplicate target", `{"repo": "owner/repo", "releases": [
			{"targetZoteroVersion": "7", "tagName": "v1"},
			{"targetZoteroVersion": "7", "tagName": "v2"}
		]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data))
			require.ErrorIs(t, err, ErrSpecInvalid)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"),
		[]byte(`{"repo": "owner/addon-a", "releases": [{"targetZoteroVersion": "7", "tagName": "latest"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"),
		[]byte(`{"repo": "owner/addon-b", "releases": [{"targetZoteroVersion": "6", "tagName": "v1.0.0"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"repo":`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte(`not a spec`), 0o644))

	specs, err := LoadDir(dir, newTestLogger())
	require.NoError(t, err)
	require.Len(t, specs, 2)

	_, err = LoadDir(filepath.Join(dir, "does-not-exist"), newTestLogger())
	require.Error(t, err)
}
