// Package section handles dotted-numeric section identifiers: normalization,
// ordering, hierarchy and cross-reference extraction.
package section

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ID is a dotted-numeric section identifier such as "4.3.2".
type ID = string

// referencePattern requires at least two dotted components, so a bare "4" is
// never a reference even though "4" can be a node.
var referencePattern = regexp.MustCompile(`\b\d+\.\d+(?:\.\d+)*\b`)

// Normalize strips formatting artifacts from a raw section key: anything after
// the first tab or whitespace boundary is dropped.
func Normalize(raw string) ID {
	trimmed := strings.TrimSpace(raw)
	if i := strings.IndexAny(trimmed, " \t\r\n"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

// NormalizeMap normalizes every key of a raw section map. When two raw keys
// collapse to the same id, the first raw key in sorted order wins and the
// others are returned as dropped.
func NormalizeMap(raw map[string]string) (map[ID]string, []string) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[ID]string, len(raw))
	var dropped []string
	for _, k := range keys {
		id := Normalize(k)
		if id == "" {
			dropped = append(dropped, k)
			continue
		}
		if _, exists := out[id]; exists {
			dropped = append(dropped, k)
			continue
		}
		out[id] = raw[k]
	}
	return out, dropped
}

// ExtractReferences returns every dotted section reference in text, in order
// of appearance, duplicates included.
func ExtractReferences(text string) []ID {
	matches := referencePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []ID{}
	}
	return matches
}

// Depth is the number of dot-separated components.
func Depth(id ID) int {
	if id == "" {
		return 0
	}
	return strings.Count(id, ".") + 1
}

// Parent drops the last component. Top-level ids have no parent ("").
func Parent(id ID) ID {
	i := strings.LastIndex(id, ".")
	if i < 0 {
		return ""
	}
	return id[:i]
}

// Compare orders ids component by component. Numeric components compare
// numerically ("4.2" < "4.10"); anything else falls back to string order.
// A strict prefix sorts first.
func Compare(a, b ID) int {
	if a == b {
		return 0
	}
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := compareComponent(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return strings.Compare(a, b)
}

func compareComponent(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return strings.Compare(a, b) // "01" vs "1"
	}
	return strings.Compare(a, b)
}

// Sort orders ids in place using Compare.
func Sort(ids []ID) {
	sort.SliceStable(ids, func(i, j int) bool {
		return Compare(ids[i], ids[j]) < 0
	})
}

// SortedKeys returns the keys of m ordered by Compare.
func SortedKeys[T any](m map[ID]T) []ID {
	keys := make([]ID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	Sort(keys)
	return keys
}
