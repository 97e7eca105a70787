package normalize

import (
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/doccomply/backend/internal/storage/models"
	"github.com/doccomply/backend/pkg/logger"
)

// Entity extraction cost is bounded per document.
const maxEntityInputChars = 10000

// ExtractEntities fills the entity placeholders of a normalized document
// from its section text. Extraction is best-effort: on tagger failure the
// placeholders stay empty and the pipeline continues.
func ExtractEntities(sections []models.Section) models.DocumentEntities {
	entities := models.DocumentEntities{
		People:    []string{},
		Orgs:      []string{},
		Locations: []string{},
	}

	var builder strings.Builder
	for _, section := range sections {
		if builder.Len()+len(section.Text) > maxEntityInputChars {
			break
		}
		builder.WriteString(section.Text)
		builder.WriteString("\n")
	}

	if builder.Len() == 0 {
		return entities
	}

	doc, err := prose.NewDocument(builder.String())
	if err != nil {
		logger.Warn("Entity extraction failed", zap.Error(err))
		return entities
	}

	seen := map[string]bool{}
	for _, ent := range doc.Entities() {
		key := ent.Label + "|" + ent.Text
		if seen[key] {
			continue
		}
		seen[key] = true

		switch ent.Label {
		case "PERSON":
			entities.People = append(entities.People, ent.Text)
		case "GPE":
			entities.Locations = append(entities.Locations, ent.Text)
		default:
			entities.Orgs = append(entities.Orgs, ent.Text)
		}
	}

	return entities
}
