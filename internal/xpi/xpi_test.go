package xpi

import (
	"archive/zip"
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

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "addon.xpi")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

const testInstallRDF = `<?xml version="1.0" encoding="UTF-8"?>
<RDF xmlns="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
     xmlns:em="http://www.mozilla.org/2004/em-rdf#">
  <Description about="urn:mozilla:install-manifest"
               em:id="legacy@example.com"
               em:name="Legacy Addon"
               em:version="1.2.3">
    <em:description>A legacy addon</em:description>
    <em:targetApplication>
      <Description>
        <em:id>zotero@chnm.gmu.edu</em:id>
        <em:minVersion>4.0</em:minVersion>
        <em:maxVersion>7.*</em:maxVersion>
      </Description>
    </em:targetApplication>
    <em:targetApplication>
      <Description>
        <em:id>firefox@mozilla.org</em:id>
        <em:minVersion>60.0</em:minVersion>
        <em:maxVersion>99.*</em:maxVersion>
      </Description>
    </em:targetApplication>
  </Description>
</RDF>`

func TestExtractInstallRDF(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"install.rdf": testInstallRDF,
		"chrome/content/overlay.js": "// code",
	})
	info, err := Extract(path, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, "legacy@example.com", info.ID)
	require.Equal(t, "Legacy Addon", info.Name)
	require.Equal(t, "1.2.3", info.Version)
	require.Equal(t, "A legacy addon", info.Description)
	require.Equal(t, "4.0", info.MinVersion)
	// install.rdf cannot declare compatibility beyond the 6.x series
	require.Equal(t, "6.*", info.MaxVersion)
	require.True(t, info.Compatible("6.*"))
	require.False(t, info.Compatible("7.*"))
}

func TestExtractManifestJSON(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"manifest.json": `{
			// manifests often carry comments and trailing commas
			"name": "Modern Addon",
			"version": "2.0.0",
			"description": "a modern addon",
			"applications": {
				"zotero": {
					"id": "modern@example.com",
					"update_url": "https://example.com/updates.json",
					"strict_min_version": "6.999",
					"strict_max_version": "7.0.*",
				},
			},
		}`,
	})
	info, err := Extract(path, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, "modern@example.com", info.ID)
	require.Equal(t, "Modern Addon", info.Name)
	require.Equal(t, "2.0.0", info.Version)
	require.Equal(t, "https://example.com/updates.json", info.UpdateURL)
	require.Equal(t, "6.999", info.MinVersion)
	require.Equal(t, "7.0.*", info.MaxVersion)
	require.True(t, info.Compatible("7.*"))
}

func TestExtractManifestJSONGeckoFallback(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"manifest.json": `{
			"name": "Gecko Addon",
			"version": "1.0.0",
			"browser_specific_settings": {
				"gecko": {
					"id": "gecko@example.com",
					"strict_min_version": "6.0",
					"strict_max_version": "6.*"
				}
			}
		}`,
	})
	info, err := Extract(path, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, "gecko@example.com", info.ID)
	require.Equal(t, "6.0", info.MinVersion)
	require.Equal(t, "6.*", info.MaxVersion)
}

func TestExtractResolvesMessagePlaceholders(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"manifest.json": `{
			"name": "__MSG_addonName__",
			"description": "__MSG_addonDescription__",
			"version": "3.1.0",
			"default_locale": "en",
			"applications": {
				"zotero": {
					"id": "localized@example.com",
					"strict_min_version": "7.0",
					"strict_max_version": "7.*"
				}
			}
		}`,
		"_locales/en/messages.json": `{
			"addonName": {"message": "Localized Addon"},
			"addonDescription": {"message": "A localized description"}
		}`,
	})
	info, err := Extract(path, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, "Localized Addon", info.Name)
	require.Equal(t, "A localized description", info.Description)
	require.Equal(t, "localized@example.com", info.ID)
}

func TestExtractBothDialects(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"install.rdf": testInstallRDF,
		"manifest.json": `{
			"name": "Modern Name",
			"version": "2.0.0",
			"applications": {
				"zotero": {
					"id": "legacy@example.com",
					"strict_min_version": "6.999",
					"strict_max_version": "7.*"
				}
			}
		}`,
	})
	info, err := Extract(path, newTestLogger())
	require.NoError(t, err)
	// manifest.json wins on conflicting fields
	require.Equal(t, "Modern Name", info.Name)
	require.Equal(t, "2.0.0", info.Version)
	// the compatibility range widens across dialects
	require.Equal(t, "4.0", info.MinVersion)
	require.Equal(t, "7.*", info.MaxVersion)
	require.True(t, info.Compatible("6.*"))
	require.True(t, info.Compatible("7.*"))
}

func TestExtractManifestMissing(t *testing.T) {
	path := writeArchive(t, map[string]string{"readme.txt": "nothing to see"})
	_, err := Extract(path, newTestLogger())
	require.ErrorIs(t, err, ErrManifestMissing)
}

func TestExtractManifestMalformed(t *testing.T) {
	path := writeArchive(t, map[string]string{"manifest.json": `{"name": `})
	_, err := Extract(path, newTestLogger())
	require.ErrorIs(t, err, ErrManifestMalformed)
}

func TestExtractCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xpi")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))
	_, err := Extract(path, newTestLogger())
	require.ErrorIs(t, err, ErrCorruptArchive)
}

func TestExtractMalformedLegacyValidCurrent(t *testing.T) {
	path := writeArchive(t, map[string]string{
		"install.rdf": "<broken",
		"manifest.json": `{
			"name": "Survivor",
			"version": "1.0.0",
			"applications": {
				"zotero": {"id": "survivor@example.com", "strict_min_version": "7.0", "strict_max_version": "7.*"}
			}
		}`,
	})
	info, err := Extract(path, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, "survivor@example.com", info.ID)
}
