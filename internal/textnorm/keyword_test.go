package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesKeyword(t *testing.T) {
	tests := []struct {
		tok  string
		kw   string
		want bool
	}{
		{"موقع", "موقع", true},
		{"الموقع", "موقع", true},
		{"للموقع", "موقع", true},
		{"بالموقع", "موقع", true},
		{"وموقعها", "موقع", true},
		{"موقعي", "موقع", true},
		{"صفحتي", "صفحه", true},
		{"صفحات", "صفحه", true},
		{"الصفحه", "صفحه", true},
		{"صفحت", "صفحه", false},
		{"الركود", "كود", false},
		{"العداله", "داله", false},
		{"الاعمال", "مال", false},
		{"شمال", "مال", false},
		{"المال", "مال", true},
		{"python", "python", true},
		{"python3", "python", false},
		{"capital", "api", false},
		{"trust", "rust", false},
		{"description", "script", false},
		{"ال", "ال", true},
		{"", "كود", false},
	}
	for _, tt := range tests {
		t.Run(tt.tok+"/"+tt.kw, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesKeyword(tt.tok, tt.kw))
		})
	}
}

func TestContainsKeyword(t *testing.T) {
	tokens := []string{"اكتب", "الداله", "التاليه"}

	assert.True(t, ContainsKeyword(tokens, "اكتب داله"))
	assert.True(t, ContainsKeyword(tokens, "داله"))
	assert.False(t, ContainsKeyword(tokens, "داله اكتب"))
	assert.False(t, ContainsKeyword(tokens, ""))
	assert.False(t, ContainsKeyword(nil, "كود"))
}
