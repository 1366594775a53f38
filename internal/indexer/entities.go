package indexer

import (
	"regexp"
	"strings"

	"github.com/omninode-ai/omniintelligence-core/internal/domain"
)

// declPatterns pre-extract code-construct identifiers from raw content. Each
// pattern names the capture group's entity type; none of them parse any
// single language's grammar, so a Go file, a Python file, and a JS file all
// go through the same patterns rather than a per-language parser.
var declPatterns = []struct {
	entityType string
	re         *regexp.Regexp
}{
	{"function", regexp.MustCompile(`\b(?:func|def|function|fn)\s+([A-Za-z_]\w*)`)},
	{"class", regexp.MustCompile(`\bclass\s+([A-Za-z_]\w*)`)},
	{"type", regexp.MustCompile(`\b(?:struct|interface|type)\s+([A-Za-z_]\w*)`)},
}

// extractConstructs finds function/class/type declarations in content via
// the patterns above, deduping by (type, name). Grounded on the examples'
// preExtractIdentifiers hint-extraction pass: a regex sweep that surfaces
// structured identifiers without attempting a real parse.
func extractConstructs(content string) []domain.Entity {
	seen := make(map[string]bool)
	var entities []domain.Entity
	for _, p := range declPatterns {
		for _, m := range p.re.FindAllStringSubmatch(content, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" {
				continue
			}
			key := p.entityType + ":" + name
			if seen[key] {
				continue
			}
			seen[key] = true
			entities = append(entities, domain.Entity{Name: name, Type: p.entityType})
		}
	}
	return entities
}
