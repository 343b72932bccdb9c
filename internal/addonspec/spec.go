// Package addonspec loads the declarative addon spec files that drive a
// scraper run: one JSON document per addon, naming the GitHub repository and
// the requested releases per target Zotero version.
package addonspec

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var rawSchema string

var (
	compiledSchema     *gojsonschema.Schema
	compiledSchemaInit sync.Once
)

func getSchema() *gojsonschema.Schema {
	compiledSchemaInit.Do(func() {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(rawSchema))
		if err != nil {
			panic(fmt.Sprintf("addonspec: invalid embedded schema: %v", err))
		}
		compiledSchema = schema
	})
	return compiledSchema
}

// ErrSpecInvalid marks a malformed spec file. It is fatal for that one spec
// only, never for the whole run.
var ErrSpecInvalid = errors.New("invalid addon spec")

// ReleaseRequest asks for one release of the addon: either a moving selector
// ("latest", "pre") or a literal tag, targeting one major Zotero version.
type ReleaseRequest struct {
	TargetZoteroVersion string `json:"targetZoteroVersion"`
	TagName             string `json:"tagName"`
}

// Spec is one declarative addon input. ID, Name and Description are optional
// overrides; when absent they are derived from the archive or the repository.
type Spec struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Repo        string            `json:"repo"`
	Releases    []*ReleaseRequest `json:"releases"`
}

func (s *Spec) Owner() string {
	owner, _, _ := strings.Cut(s.Repo, "/")
	return owner
}

func (s *Spec) RepoName() string {
	_, repo, _ := strings.Cut(s.Repo, "/")
	return repo
}

// Parse validates a spec document against the embedded schema and decodes it.
func Parse(data []byte) (*Spec, error) {
	result, err := getSchema().Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpecInvalid, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, resErr := range result.Errors() {
			msgs = append(msgs, resErr.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSpecInvalid, strings.Join(msgs, "; "))
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpecInvalid, err)
	}
	seenTargets := make(map[string]bool, len(spec.Releases))
	for _, req := range spec.Releases {
		if seenTargets[req.TargetZoteroVersion] {
			return nil, fmt.Errorf("%w: duplicate target Zotero version %q", ErrSpecInvalid, req.TargetZoteroVersion)
		}
		seenTargets[req.TargetZoteroVersion] = true
	}
	return &spec, nil
}

// LoadDir reads all *.json spec files from dir. Invalid files are logged and
// skipped; an unreadable directory is fatal.
func LoadDir(dir string, log *logrus.Logger) ([]*Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read addon spec directory: %w", err)
	}
	specs := make([]*Spec, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("skipping addon spec %s: %v", entry.Name(), err)
			continue
		}
		spec, err := Parse(data)
		if err != nil {
			log.Warnf("skipping addon spec %s: %v", entry.Name(), err)
			continue
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
