package taxonomy

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// namespacePaths are the descriptor locations tried in order, as dotted
// paths from the document root.
var namespacePaths = [][]string{
	{"instance", "namespaces"},
	{"namespaces"},
	{"schema", "namespaces"},
	{"metadata", "namespaces"},
	{"xbrl", "namespaces"},
	{"document", "namespaces"},
}

// FindParsedDescriptor locates parsed.json anywhere under root. The first
// match in walk order wins.
func FindParsedDescriptor(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped
		}
		if !d.IsDir() && d.Name() == "parsed.json" {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", eris.Wrapf(err, "descriptor: walk %s", root)
	}
	if found == "" {
		return "", eris.Errorf("descriptor: no parsed.json under %s", root)
	}
	return found, nil
}

// ReadNamespaces extracts the namespace prefix→URI map from a parsed filing
// descriptor and returns the URIs. The known descriptor paths are tried
// first; failing those, a deep search finds any object whose string values
// are mostly URLs.
func ReadNamespaces(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "descriptor: read %s", path)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "descriptor: decode %s", path)
	}

	for _, p := range namespacePaths {
		if m, ok := lookupMap(doc, p); ok {
			if uris := namespaceValues(m); len(uris) > 0 {
				return uris, nil
			}
		}
	}

	if m, ok := deepSearchNamespaces(doc); ok {
		return namespaceValues(m), nil
	}
	return nil, eris.Errorf("descriptor: no namespace map in %s", path)
}

func lookupMap(doc map[string]any, path []string) (map[string]any, bool) {
	cur := doc
	for i, key := range path {
		v, ok := cur[key]
		if !ok {
			return nil, false
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return m, true
		}
		cur = m
	}
	return nil, false
}

// deepSearchNamespaces walks the document for any object where more than
// half the string values are http(s) URLs.
func deepSearchNamespaces(node any) (map[string]any, bool) {
	m, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}

	strTotal, urlCount := 0, 0
	for _, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		strTotal++
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			urlCount++
		}
	}
	if strTotal > 0 && urlCount*2 > strTotal {
		return m, true
	}

	for _, v := range m {
		if found, ok := deepSearchNamespaces(v); ok {
			return found, true
		}
	}
	return nil, false
}

func namespaceValues(m map[string]any) []string {
	var uris []string
	for _, v := range m {
		if s, ok := v.(string); ok && s != "" {
			uris = append(uris, s)
		}
	}
	return uris
}
