// Package xpi extracts the self-declared identity of a Zotero addon from its
// distributed archive. Two manifest dialects are supported: the current
// WebExtensions manifest.json and the legacy install.rdf.
package xpi

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zotero-addons/addons-scraper/internal/zotero"
)

var (
	ErrCorruptArchive    = errors.New("corrupt addon archive")
	ErrManifestMissing   = errors.New("no addon manifest found in archive")
	ErrManifestMalformed = errors.New("addon manifest is malformed")
)

const (
	manifestJSONName = "manifest.json"
	installRDFName   = "install.rdf"
)

// Info is the identity an addon declares about itself. Individual fields may
// be empty; the min/max version range defaults to the unbounded "*".
type Info struct {
	ID          string
	Name        string
	Version     string
	Description string
	UpdateURL   string
	MinVersion  string
	MaxVersion  string
}

// Compatible reports whether the addon declares support for the given Zotero
// version ("6.*" or "7.*").
func (i *Info) Compatible(checkVersion string) bool {
	return zotero.Compatible(i.MinVersion, i.MaxVersion, checkVersion)
}

// details is what a single manifest dialect contributes.
type details struct {
	id          string
	name        string
	version     string
	description string
	updateURL   string
	minVersion  string
	maxVersion  string
}

func (i *Info) merge(d *details, log *logrus.Logger) {
	if d.id != "" {
		if i.ID != "" && i.ID != d.id {
			log.Warnf("addon id mismatch between manifests: %s != %s", i.ID, d.id)
			return
		}
		i.ID = d.id
	}
	if d.name != "" {
		i.Name = d.name
	}
	if d.version != "" {
		i.Version = d.version
	}
	if d.description != "" {
		i.Description = d.description
	}
	if d.updateURL != "" {
		i.UpdateURL = d.updateURL
	}
	if d.minVersion != "" && d.maxVersion != "" {
		i.widenRange(d.minVersion, d.maxVersion)
	}
}

// widenRange grows the compatibility range to include the new bounds.
func (i *Info) widenRange(minVersion, maxVersion string) {
	minNew := strings.ReplaceAll(minVersion, "*", "0")
	minCur := strings.ReplaceAll(i.MinVersion, "*", "999")
	if zotero.Compare(minNew, minCur) <= 0 {
		i.MinVersion = minVersion
	}
	maxNew := strings.ReplaceAll(maxVersion, "*", "999")
	maxCur := strings.ReplaceAll(i.MaxVersion, "*", "0")
	if zotero.Compare(maxNew, maxCur) >= 0 {
		i.MaxVersion = maxVersion
	}
}

func findFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Extract opens the archive and parses whichever manifest dialects are
// present. The legacy install.rdf is parsed first so that the current
// manifest.json wins on conflicting fields; version ranges widen across
// dialects.
func Extract(path string, log *logrus.Logger) (*Info, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer zr.Close()

	legacy := findFile(&zr.Reader, installRDFName)
	current := findFile(&zr.Reader, manifestJSONName)
	if legacy == nil && current == nil {
		return nil, ErrManifestMissing
	}

	info := &Info{MinVersion: "*", MaxVersion: "*"}
	parsed := false
	var parseErr error

	if legacy != nil {
		data, err := readZipFile(legacy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		d, err := parseInstallRDF(data)
		if err != nil {
			parseErr = err
		} else {
			info.merge(d, log)
			parsed = true
		}
	}
	if current != nil {
		d, err := parseManifestJSON(&zr.Reader, current)
		if err != nil {
			parseErr = err
		} else {
			info.merge(d, log)
			parsed = true
		}
	}
	if !parsed {
		return nil, fmt.Errorf("%w: %v", ErrManifestMalformed, parseErr)
	}
	return info, nil
}
