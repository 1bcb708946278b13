package codegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := New(nil)
	require.NoError(t, err)
	return g
}

func TestDetect(t *testing.T) {
	tests := []struct {
		prompt string
		want   Request
	}{
		{"أنشئ موقع ترحيبي", Request{Kind: KindWebpage}},
		{"اعمل صفحة هبوط html", Request{Kind: KindWebpage, Lang: ""}},
		{"ابني خادم api للطلاب", Request{Kind: KindAPI}},
		{"اكتب كود بايثون يطبع مرحبا", Request{Kind: KindScript, Lang: "python"}},
		{"write a golang program", Request{Kind: KindScript, Lang: "go"}},
		{"برنامج c++ للفرز", Request{Kind: KindScript, Lang: "cpp"}},
		{"كود C# بسيط", Request{Kind: KindScript, Lang: "csharp"}},
		{"سكربت يعيد تسمية الملفات", Request{Kind: KindScript}},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.prompt))
		})
	}
}

func TestGenerateWebpage(t *testing.T) {
	g := newGenerator(t)

	res, err := g.Generate(context.Background(), "أنشئ موقع ترحيبي")
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, []string{"index.html", "style.css", "main.js"}, res.Order)
	assert.Len(t, res.Files, 3)
	assert.Empty(t, res.Issues)
	assert.Contains(t, res.Tips, "index.html")
	assert.NotEmpty(t, res.Plan)

	name, content, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, "index.html", name)
	assert.Contains(t, content, "<html")
	assert.Contains(t, content, "<h1>أنشئ موقع ترحيبي</h1>")
}

func TestGenerateEscapesTitleInHTML(t *testing.T) {
	g := newGenerator(t)

	res, err := g.Generate(context.Background(), "موقع <script>x</script>")
	require.NoError(t, err)
	assert.NotContains(t, res.Files["index.html"], "<script>x</script>")
	assert.Contains(t, res.Files["index.html"], "&lt;script&gt;")
}

func TestGenerateAPI(t *testing.T) {
	g := newGenerator(t)

	res, err := g.Generate(context.Background(), "ابني api بسيط")
	require.NoError(t, err)
	assert.Equal(t, []string{"app.py"}, res.Order)
	assert.Contains(t, res.Files["app.py"], "FastAPI")
	assert.Contains(t, res.Tips, "uvicorn")
}

func TestGenerateScript(t *testing.T) {
	g := newGenerator(t)

	res, err := g.Generate(context.Background(), "اكتب كود بايثون يطبع مرحبا")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py"}, res.Order)
	assert.Contains(t, res.Files["main.py"], `print("مرحبا")`)
	assert.Equal(t, "python", res.Request.Lang)
	assert.Empty(t, res.Issues)
}

func TestGenerateScriptDefaultsToPython(t *testing.T) {
	g := newGenerator(t)

	res, err := g.Generate(context.Background(), "سكربت يعيد تسمية الملفات")
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguage, res.Request.Lang)
	assert.Contains(t, res.Files["main.py"], "مرحبا بالعالم")
}

func TestGenerateGenericLanguage(t *testing.T) {
	g := newGenerator(t)

	res, err := g.Generate(context.Background(), "write rust code that prints hi there")
	require.NoError(t, err)
	require.Equal(t, []string{"main.rs"}, res.Order)
	content := res.Files["main.rs"]
	assert.True(t, strings.HasPrefix(content, "// rust: "))
	assert.Contains(t, content, "// hi there")
}

func TestGenerateStripsQuotesFromMessage(t *testing.T) {
	g := newGenerator(t)

	res, err := g.Generate(context.Background(), `bash script print "$HOME"`)
	require.NoError(t, err)
	assert.Contains(t, res.Files["main.sh"], `echo "HOME"`)
}

func TestGenerateErrors(t *testing.T) {
	g := newGenerator(t)

	_, err := g.Generate(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrCollaboratorFailed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, "موقع")
	assert.True(t, errors.Is(err, ErrCollaboratorFailed))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestReview(t *testing.T) {
	files := map[string]string{
		"index.html": "<div>no root element here at all</div>",
		"tiny.js":    "x()",
		"ok.py":      "print('a perfectly fine line')",
	}
	issues := Review([]string{"index.html", "tiny.js", "ok.py"}, files)

	require.Len(t, issues, 2)
	assert.Contains(t, issues[0], "index.html")
	assert.Contains(t, issues[1], "tiny.js")
}

func TestResultFirstEmpty(t *testing.T) {
	_, _, ok := Result{}.First()
	assert.False(t, ok)
}
