package stateapi

import (
	"fmt"
	"sort"
	"strings"
)

// ParamMapEntry links a user-facing name to an internal field name.
type ParamMapEntry struct {
	External string
	Internal string
	// Enum maps friendly values to internal enumeration members. Lookups are
	// case-insensitive; unmapped values pass through unchanged.
	Enum map[string]string
	// Optional entries accept a nil value, which clears the field instead of
	// contributing a value.
	Optional bool
}

// Translate applies enum coercion to raw. Non-string values, and strings
// without a mapping, are returned unchanged.
func (e ParamMapEntry) Translate(raw any) any {
	if len(e.Enum) == 0 {
		return raw
	}
	translate := func(s string) string {
		key := strings.ToLower(strings.TrimSpace(s))
		for friendly, internal := range e.Enum {
			if strings.ToLower(friendly) == key {
				return internal
			}
		}
		return s
	}
	switch v := raw.(type) {
	case string:
		return translate(v)
	case []string:
		out := make([]string, len(v))
		for i := range v {
			out[i] = translate(v[i])
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i := range v {
			if s, ok := v[i].(string); ok {
				out[i] = translate(s)
				continue
			}
			out[i] = v[i]
		}
		return out
	default:
		return raw
	}
}

// ParamMap is the bidirectional name table of one stage definition.
type ParamMap struct {
	entries    []ParamMapEntry
	byExternal map[string]int
	byInternal map[string]int
}

// NewParamMap validates that external and internal names are unique.
func NewParamMap(entries ...ParamMapEntry) (ParamMap, error) {
	pm := ParamMap{
		byExternal: make(map[string]int, len(entries)),
		byInternal: make(map[string]int, len(entries)),
	}
	for i, entry := range entries {
		ext := normalizeName(entry.External)
		in := strings.TrimSpace(entry.Internal)
		if ext == "" || in == "" {
			return ParamMap{}, fmt.Errorf("stateapi: param map entry %d requires external and internal names", i)
		}
		if _, dup := pm.byExternal[ext]; dup {
			return ParamMap{}, fmt.Errorf("stateapi: external name %q mapped twice", entry.External)
		}
		if _, dup := pm.byInternal[in]; dup {
			return ParamMap{}, fmt.Errorf("stateapi: internal name %q mapped twice", in)
		}
		pm.byExternal[ext] = len(pm.entries)
		pm.byInternal[in] = len(pm.entries)
		pm.entries = append(pm.entries, cloneEntry(entry))
	}
	return pm, nil
}

// Resolve looks up an external name, ignoring case.
func (pm ParamMap) Resolve(external string) (ParamMapEntry, bool) {
	idx, ok := pm.byExternal[normalizeName(external)]
	if !ok {
		return ParamMapEntry{}, false
	}
	return cloneEntry(pm.entries[idx]), true
}

// External returns the user-facing name for an internal field name.
func (pm ParamMap) External(internal string) (string, bool) {
	idx, ok := pm.byInternal[internal]
	if !ok {
		return "", false
	}
	return pm.entries[idx].External, true
}

// Entries returns the entries in declaration order.
func (pm ParamMap) Entries() []ParamMapEntry {
	out := make([]ParamMapEntry, len(pm.entries))
	for i := range pm.entries {
		out[i] = cloneEntry(pm.entries[i])
	}
	return out
}

// ExternalNames returns the sorted user-facing names.
func (pm ParamMap) ExternalNames() []string {
	out := make([]string, 0, len(pm.entries))
	for _, e := range pm.entries {
		out = append(out, e.External)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (pm ParamMap) Len() int { return len(pm.entries) }

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func cloneEntry(e ParamMapEntry) ParamMapEntry {
	out := e
	if len(e.Enum) > 0 {
		out.Enum = make(map[string]string, len(e.Enum))
		for k, v := range e.Enum {
			out.Enum[k] = v
		}
	}
	return out
}
