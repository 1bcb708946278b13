package memory

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
)

// QualityScore rates a fact once at insert time. It is informational and
// never gates insertion.
func QualityScore(text string, blocklist []string) float64 {
	length := utf8.RuneCountInString(text)
	if length < 30 {
		return 0.1
	}

	folded := textnorm.Fold(text)
	for _, phrase := range blocklist {
		if p := textnorm.Fold(phrase); p != "" && strings.Contains(folded, p) {
			return 0.1
		}
	}

	score := 0.0
	if strings.Contains(text, ".") {
		score += 0.3
	}
	if strings.IndexFunc(text, unicode.IsDigit) >= 0 {
		score += 0.2
	}
	if len(strings.Fields(text)) > 8 {
		score += 0.3
	}
	if length > 100 {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
