package aliases

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welletl/internal/snapshot"
)

func TestResolve_FirstPresentCandidateWins(t *testing.T) {
	t.Parallel()

	fa := FileAliases{
		Manifest:   []string{"WellReportTrackingNumber", " OwnerName "},
		Dictionary: []string{"TrackingNumber"},
	}

	got, ok := fa.Resolve("TRK_NO", "TrackingNumber", "WellReportTrackingNumber")
	require.True(t, ok)
	assert.Equal(t, "TrackingNumber", got)

	got, ok = fa.Resolve("OwnerName")
	require.True(t, ok)
	assert.Equal(t, "OwnerName", got)

	_, ok = fa.Resolve("County", "CountyName")
	assert.False(t, ok)

	_, ok = fa.Resolve()
	assert.False(t, ok)
}

func TestResolve_IsCaseSensitive(t *testing.T) {
	t.Parallel()

	s := HeadersOf([]string{"TrackingNumber"})
	assert.False(t, s.Has("trackingnumber"))
	assert.True(t, s.Has(" TrackingNumber"))
}

func TestFileAliases_AcceptsLegacyKeys(t *testing.T) {
	t.Parallel()

	var d Dictionary
	raw := `{
	  "WellData.txt": {"headers_from_manifest": ["A"], "headers_from_dictionary": ["B"]},
	  "WellCasing.txt": {"manifest_headers": ["C"], "dictionary_headers": []}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &d))

	assert.Equal(t, FileAliases{Manifest: []string{"A"}, Dictionary: []string{"B"}}, d["WellData.txt"])
	assert.Equal(t, []string{"C"}, d["WellCasing.txt"].Manifest)
}

func TestDictionary_For(t *testing.T) {
	t.Parallel()

	d := Dictionary{
		"WellData.txt":   {Manifest: []string{"exact"}},
		"welldata.TXT":   {Manifest: []string{"fold"}},
		"WellFilter.txt": {Manifest: []string{"filter"}},
	}

	fa, ok := d.For("/src/WellData.txt")
	require.True(t, ok)
	assert.Equal(t, []string{"exact"}, fa.Manifest)

	fa, ok = d.For("wellfilter.txt")
	require.True(t, ok)
	assert.Equal(t, []string{"filter"}, fa.Manifest)

	_, ok = d.For("WellMain.txt")
	assert.False(t, ok)
}

func TestBuild_MatchesSectionsLoosely(t *testing.T) {
	t.Parallel()

	m := snapshot.Manifest{Files: []snapshot.FileSummary{
		{Name: "WellData.txt", HeaderFields: []string{"TrackingNumber", "OwnerName"}},
		{Name: "WellBoreHole.txt", HeaderFields: []string{"TrackingNumber"}},
		{Name: "WellLevels.txt", HeaderFields: nil},
		{Name: "SDR_Well Casing.txt", HeaderFields: []string{"CasingNo"}},
	}}
	dict := map[string][]string{
		"Well Data":        {"TrackingNumber", "Owner Name"},
		"Well":             {"generic"},
		"WellBoreHole.txt": {"BoreholeNo"},
		"WellCasing":       {"CasingNo", "Material"},
	}

	got := Build(m, dict)
	require.Len(t, got, 4)

	assert.Equal(t, []string{"TrackingNumber", "Owner Name"}, got["WellData.txt"].Dictionary)
	assert.Equal(t, []string{"BoreholeNo"}, got["WellBoreHole.txt"].Dictionary)
	assert.Equal(t, []string{"CasingNo", "Material"}, got["SDR_Well Casing.txt"].Dictionary)
	// "Well" is only a prefix of the word "WellLevels".
	assert.Equal(t, []string{}, got["WellLevels.txt"].Dictionary)
	assert.Equal(t, []string{}, got["WellLevels.txt"].Manifest)
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "aliases.json")
	in := Dictionary{"WellData.txt": {Manifest: []string{"A"}, Dictionary: []string{}}}
	require.NoError(t, Save(path, in))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"manifest_headers"`)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestParseDictionaryHTML(t *testing.T) {
	t.Parallel()

	html := `
<html><body>
  <h2>WellData</h2>
  <table>
    <tr><th>Column Name</th><th>Description</th></tr>
    <tr><td> TrackingNumber </td><td>Report id</td></tr>
    <tr><td>Owner
        Name</td><td>Owner</td></tr>
    <tr><td></td><td>blank rows are ignored</td></tr>
  </table>
  <table data-file="WellCasing">
    <tr><th>TrackingNumber</th><th>CasingNo</th><th>Diameter</th></tr>
  </table>
  <table>
    <caption>WellFilter.txt</caption>
    <tr><td>Field</td><td>Type</td></tr>
    <tr><td>FilterTopDepth</td><td>numeric</td></tr>
  </table>
  <table><tr><td>orphan</td></tr></table>
</body></html>`

	got, err := ParseDictionaryHTML(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, []string{"TrackingNumber", "Owner Name"}, got["WellData"])
	assert.Equal(t, []string{"TrackingNumber", "CasingNo", "Diameter"}, got["WellCasing"])
	assert.Equal(t, []string{"FilterTopDepth"}, got["WellFilter.txt"])
	assert.Len(t, got, 3)
}
