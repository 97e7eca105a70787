package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/pkg/utils"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Normalize converts heterogeneous raw content into an ordered sequence
// of addressable sections. It is a pure function: persistence and entity
// extraction are the caller's responsibility. Empty or whitespace-only
// content yields zero sections, which callers treat as "no evaluable
// content", not as an error.
func Normalize(content models.RawContent, documentID string) models.NormalizedDocument {
	var sections []models.Section

	switch content.FileType {
	case models.FileTypeJSON:
		sections = jsonSections(content.JSON, documentID)
	case models.FileTypeCSV:
		sections = csvSections(content.CSVHeaders, content.CSVRows, documentID)
	case models.FileTypeHTML:
		sections = textSections(stripMarkup(content.RawText), documentID)
	}

	// Fallback covers plain text and any typed input that produced no rows.
	if len(sections) == 0 {
		sections = textSections(content.RawText, documentID)
	}

	charCount := 0
	for _, s := range sections {
		charCount += len(s.Text)
	}

	return models.NormalizedDocument{
		ID:           documentID,
		Source:       content.Source,
		FileType:     content.FileType,
		Sections:     sections,
		Entities:     models.DocumentEntities{People: []string{}, Orgs: []string{}, Locations: []string{}},
		SectionCount: len(sections),
		CharCount:    charCount,
		NormalizedAt: time.Now().UTC(),
	}
}

func newSection(documentID string, index int, label, text string) models.Section {
	return models.Section{
		ID:    utils.SectionID(documentID, index, label, text),
		Index: index,
		Label: label,
		Text:  text,
	}
}

func jsonSections(payload any, documentID string) []models.Section {
	var sections []models.Section

	switch value := payload.(type) {
	case map[string]any:
		// Go maps have no stable iteration order; keys are sorted so the
		// derived section ids stay reproducible.
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for i, key := range keys {
			label := fmt.Sprintf("json.%s", key)
			sections = append(sections, newSection(documentID, i, label, stringifyValue(value[key])))
		}
	case []any:
		for i, element := range value {
			label := fmt.Sprintf("json[%d]", i)
			sections = append(sections, newSection(documentID, i, label, stringifyValue(element)))
		}
	}

	return sections
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func csvSections(headers []string, rows [][]string, documentID string) []models.Section {
	var sections []models.Section

	for i, row := range rows {
		var parts []string
		for j, value := range row {
			if j < len(headers) {
				parts = append(parts, fmt.Sprintf("%s=%s", headers[j], value))
			} else {
				parts = append(parts, value)
			}
		}

		label := fmt.Sprintf("csv.row.%d", i)
		sections = append(sections, newSection(documentID, i, label, strings.Join(parts, ", ")))
	}

	return sections
}

func textSections(text, documentID string) []models.Section {
	var sections []models.Section

	index := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		label := fmt.Sprintf("text.line.%d", index)
		sections = append(sections, newSection(documentID, index, label, line))
		index++
	}

	return sections
}

func stripMarkup(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	var lines []string
	doc.Find("body").Find("h1, h2, h3, h4, p, li, td, pre").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(whitespacePattern.ReplaceAllString(s.Text(), " "))
		if text != "" {
			lines = append(lines, text)
		}
	})

	if len(lines) == 0 {
		text := strings.TrimSpace(whitespacePattern.ReplaceAllString(doc.Find("body").Text(), " "))
		return text
	}

	return strings.Join(lines, "\n")
}
