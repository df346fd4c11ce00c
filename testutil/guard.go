// Package testutil holds test helpers that enforce package layering.
package testutil

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Predicate reports whether an import path is forbidden.
type Predicate func(importPath string) bool

// InternalImport matches imports of any internal package.
func InternalImport(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

// ThirdPartyImport matches imports outside the standard library and the
// given module.
func ThirdPartyImport(module string) Predicate {
	return func(path string) bool {
		if path == module || strings.HasPrefix(path, module+"/") {
			return false
		}
		first, _, _ := strings.Cut(path, "/")
		return strings.Contains(first, ".")
	}
}

// ImportUnder matches imports of prefix or any package below it.
func ImportUnder(prefix string) Predicate {
	return func(path string) bool {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
}

// Any combines predicates.
func Any(ps ...Predicate) Predicate {
	return func(path string) bool {
		for _, p := range ps {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// AssertNoImports walks root and fails when a non-test Go file imports a
// forbidden path. testdata directories are skipped.
func AssertNoImports(t testing.TB, root string, forbidden Predicate, reason string) {
	t.Helper()
	viols, err := importViolations(root, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", root, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

func importViolations(root string, forbidden Predicate) ([]string, error) {
	fset := token.NewFileSet()
	var viols []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == "testdata" || strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range f.Imports {
			ip := strings.Trim(imp.Path.Value, `"`)
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+filepath.ToSlash(path)+")")
			}
		}
		return nil
	})
	sort.Strings(viols)
	return viols, err
}
