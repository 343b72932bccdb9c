package xpi

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/zotero-addons/addons-scraper/internal/zotero"
)

const (
	zoteroAppID = "zotero@chnm.gmu.edu"
	emRDFNS     = "http://www.mozilla.org/2004/em-rdf#"
	rdfNS       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

	// install.rdf predates Zotero 7, so a legacy manifest can never declare
	// compatibility beyond the 6.x series.
	legacyMaxVersion = "6.*"
)

// namespacePrefix finds the prefix the document binds to the given namespace
// URI. An empty prefix means the default namespace.
func namespacePrefix(root *etree.Element, uri string) string {
	for _, attr := range root.Attr {
		if attr.Value != uri {
			continue
		}
		if attr.Space == "xmlns" {
			return attr.Key
		}
		if attr.Space == "" && attr.Key == "xmlns" {
			return ""
		}
	}
	return ""
}

func collectElements(el *etree.Element, space, tag string) []*etree.Element {
	var found []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Space == space && child.Tag == tag {
			found = append(found, child)
		}
		found = append(found, collectElements(child, space, tag)...)
	}
	return found
}

// extractFields fills the target pointers from em-namespaced attributes and
// child elements of node.
func extractFields(node *etree.Element, em string, fields map[string]*string) {
	for _, attr := range node.Attr {
		if attr.Space != em {
			continue
		}
		if target, ok := fields[attr.Key]; ok {
			*target = attr.Value
		}
	}
	for _, child := range node.ChildElements() {
		if child.Space != em {
			continue
		}
		if target, ok := fields[child.Tag]; ok {
			*target = strings.TrimSpace(child.Text())
		}
	}
}

func parseInstallRDF(data []byte) (*details, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", installRDFName, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("failed to parse %s: empty document", installRDFName)
	}

	em := namespacePrefix(root, emRDFNS)
	rdf := namespacePrefix(root, rdfNS)

	descriptions := collectElements(root, rdf, "Description")
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("%s has no RDF description", installRDFName)
	}
	desc := descriptions[0]
	for _, candidate := range descriptions {
		if len(collectElements(candidate, em, "targetApplication")) > 0 {
			desc = candidate
			break
		}
	}

	d := &details{}
	extractFields(desc, em, map[string]*string{
		"id":          &d.id,
		"name":        &d.name,
		"version":     &d.version,
		"description": &d.description,
		"updateURL":   &d.updateURL,
	})
	if d.id == "" || (strings.HasPrefix(d.id, "__") && strings.HasSuffix(d.id, "__")) {
		return nil, fmt.Errorf("%s declares no usable addon id", installRDFName)
	}

	for _, targetApp := range collectElements(desc, em, "targetApplication") {
		nodes := append([]*etree.Element{targetApp}, targetApp.ChildElements()...)
		for _, node := range nodes {
			var appID, minVersion, maxVersion string
			extractFields(node, em, map[string]*string{
				"id":         &appID,
				"minVersion": &minVersion,
				"maxVersion": &maxVersion,
			})
			if appID != zoteroAppID || minVersion == "" || maxVersion == "" {
				continue
			}
			if zotero.Compare(strings.ReplaceAll(maxVersion, "*", "999"), legacyMaxVersion) > 0 {
				maxVersion = legacyMaxVersion
			}
			mergeTargetRange(d, minVersion, maxVersion)
		}
	}
	return d, nil
}

func mergeTargetRange(d *details, minVersion, maxVersion string) {
	if d.minVersion == "" {
		d.minVersion = minVersion
	} else if zotero.Compare(strings.ReplaceAll(minVersion, "*", "0"), strings.ReplaceAll(d.minVersion, "*", "999")) <= 0 {
		d.minVersion = minVersion
	}
	if d.maxVersion == "" {
		d.maxVersion = maxVersion
	} else if zotero.Compare(strings.ReplaceAll(maxVersion, "*", "999"), strings.ReplaceAll(d.maxVersion, "*", "0")) >= 0 {
		d.maxVersion = maxVersion
	}
}
