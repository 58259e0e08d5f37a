package aliases

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseDictionaryHTML extracts per-file column lists from an HTML data
// dictionary (the published column-description workbook saved as HTML, one
// table per source file).
//
// Section name, first non-empty wins:
//   - the table's <caption>
//   - a data-file attribute on the table
//   - the nearest preceding h1..h6 sibling
//
// Columns:
//   - if a header cell reads "column name", "field name", "column" or
//     "field", that column's values in the remaining rows are the names
//   - otherwise the header row's cells are the names
//
// Tables without a section name or without columns are skipped. When two
// tables share a name the first one wins.
func ParseDictionaryHTML(r io.Reader) (map[string][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("aliases: parse html: %w", err)
	}

	out := make(map[string][]string)
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		name := sectionName(tbl)
		if name == "" {
			return
		}
		if _, seen := out[name]; seen {
			return
		}
		if cols := tableColumns(tbl); len(cols) > 0 {
			out[name] = cols
		}
	})
	return out, nil
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func sectionName(tbl *goquery.Selection) string {
	if c := cellText(tbl.Find("caption").First()); c != "" {
		return c
	}
	if v, ok := tbl.Attr("data-file"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return cellText(tbl.PrevAllFiltered("h1,h2,h3,h4,h5,h6").First())
}

func tableColumns(tbl *goquery.Selection) []string {
	rows := tbl.Find("tr")
	if rows.Length() == 0 {
		return nil
	}

	var header []string
	rows.First().Find("th,td").Each(func(_ int, c *goquery.Selection) {
		header = append(header, cellText(c))
	})

	nameCol := -1
	for i, h := range header {
		switch strings.ToLower(h) {
		case "column name", "field name", "column", "field":
			nameCol = i
		}
		if nameCol >= 0 {
			break
		}
	}

	var cols []string
	if nameCol < 0 {
		for _, h := range header {
			if h != "" {
				cols = append(cols, h)
			}
		}
		return cols
	}

	rows.Slice(1, rows.Length()).Each(func(_ int, tr *goquery.Selection) {
		cell := tr.Find("th,td").Eq(nameCol)
		if v := cellText(cell); v != "" {
			cols = append(cols, v)
		}
	})
	return cols
}
