package xpi

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tailscale/hujson"
)

type webextAppSettings struct {
	ID               string `json:"id"`
	UpdateURL        string `json:"update_url"`
	StrictMinVersion string `json:"strict_min_version"`
	StrictMaxVersion string `json:"strict_max_version"`
}

type webextManifest struct {
	Name                    string                       `json:"name"`
	Version                 string                       `json:"version"`
	Description             string                       `json:"description"`
	DefaultLocale           string                       `json:"default_locale"`
	Applications            map[string]webextAppSettings `json:"applications"`
	BrowserSpecificSettings map[string]webextAppSettings `json:"browser_specific_settings"`
}

// decodeJWCC decodes JSON that may carry comments and trailing commas, which
// are common in hand-written addon manifests.
func decodeJWCC(data []byte, v any) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(standardized, v)
}

func parseManifestJSON(zr *zip.Reader, f *zip.File) (*details, error) {
	data, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	var manifest webextManifest
	if err := decodeJWCC(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", manifestJSONName, err)
	}

	d := &details{
		name:        manifest.Name,
		version:     manifest.Version,
		description: manifest.Description,
	}
	// applications.zotero takes precedence over browser_specific_settings.gecko
	for _, settings := range []map[string]webextAppSettings{manifest.Applications, manifest.BrowserSpecificSettings} {
		if d.id != "" {
			break
		}
		for _, app := range []string{"zotero", "gecko"} {
			appSettings, ok := settings[app]
			if !ok {
				continue
			}
			d.id = appSettings.ID
			d.updateURL = appSettings.UpdateURL
			d.minVersion = appSettings.StrictMinVersion
			d.maxVersion = appSettings.StrictMaxVersion
			break
		}
	}

	resolveMessagePlaceholders(zr, manifest.DefaultLocale, d)
	return d, nil
}

var msgPlaceholderRe = regexp.MustCompile(`__MSG_(.*?)__`)

type localeMessage struct {
	Message string `json:"message"`
}

// resolveMessagePlaceholders replaces __MSG_key__ values with the message
// from the manifest's default locale file.
func resolveMessagePlaceholders(zr *zip.Reader, defaultLocale string, d *details) {
	var messages map[string]localeMessage
	fields := []*string{&d.id, &d.name, &d.version, &d.description, &d.updateURL}
	for _, field := range fields {
		match := msgPlaceholderRe.FindStringSubmatch(*field)
		if match == nil {
			continue
		}
		if messages == nil {
			messages = loadLocaleMessages(zr, defaultLocale)
			if messages == nil {
				return
			}
		}
		if msg := messages[match[1]].Message; msg != "" {
			*field = msg
		}
	}
}

func loadLocaleMessages(zr *zip.Reader, defaultLocale string) map[string]localeMessage {
	if defaultLocale == "" {
		return nil
	}
	f := findFile(zr, fmt.Sprintf("_locales/%s/messages.json", defaultLocale))
	if f == nil {
		return nil
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil
	}
	var messages map[string]localeMessage
	if err := decodeJWCC(data, &messages); err != nil {
		return nil
	}
	return messages
}
