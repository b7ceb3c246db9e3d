package section

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"4.3.2":              "4.3.2",
		"  4.3.2  ":          "4.3.2",
		"8.2.20.5\tHashMME":  "8.2.20.5",
		"8.2.20.5 HashMME":   "8.2.20.5",
		"5.5.1.2.4\t\tfoo\t": "5.5.1.2.4",
		"":                   "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "raw=%q", raw)
	}
}

func TestNormalizeMap_Collisions(t *testing.T) {
	raw := map[string]string{
		"4.1\tGeneral": "first",
		"4.1 General":  "second",
		"4.2":          "other",
		"   ":          "blank key",
	}

	out, dropped := NormalizeMap(raw)

	assert.Equal(t, map[ID]string{"4.1": "first", "4.2": "other"}, out)
	assert.ElementsMatch(t, []string{"4.1 General", "   "}, dropped)
}

func TestExtractReferences(t *testing.T) {
	assert.Equal(t, []ID{"4.3.2", "4.3.2.1"}, ExtractReferences("see 4.3.2 and 4.3.2.1"))
	assert.Equal(t, []ID{}, ExtractReferences("4 is a number"))
	assert.Equal(t, []ID{"5.5.1", "5.5.1"}, ExtractReferences("as in 5.5.1; also 5.5.1."))
	assert.Equal(t, []ID{}, ExtractReferences("value 1.2x"))
	assert.Equal(t, []ID{"1.2"}, ExtractReferences("clause 1.2.3a"))
}

func TestHierarchy(t *testing.T) {
	assert.Equal(t, 3, Depth("4.3.2"))
	assert.Equal(t, 1, Depth("4"))
	assert.Equal(t, 0, Depth(""))
	assert.Equal(t, "4.3", Parent("4.3.2"))
	assert.Equal(t, "", Parent("4"))
}

func TestCompare(t *testing.T) {
	assert.Negative(t, Compare("4.2", "4.10"))
	assert.Positive(t, Compare("4.10", "4.9"))
	assert.Negative(t, Compare("4", "4.1"))
	assert.Zero(t, Compare("4.1", "4.1"))
	assert.Negative(t, Compare("A.1", "B.1"))

	ids := []ID{"10", "4.10", "4.2", "4", "4.2.1", "9.1"}
	Sort(ids)
	assert.Equal(t, []ID{"4", "4.2", "4.2.1", "4.10", "9.1", "10"}, ids)
}
