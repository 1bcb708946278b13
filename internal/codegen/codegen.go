// Package codegen answers project and code requests with small template
// projects: a static web page, a FastAPI service, or a single script.
package codegen

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/textnorm"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// ErrCollaboratorFailed is returned when a request cannot be turned into files.
var ErrCollaboratorFailed = errors.New("code collaborator failed")

// Kind is the shape of project requested.
type Kind string

const (
	KindWebpage Kind = "webpage"
	KindAPI     Kind = "api"
	KindScript  Kind = "script"
)

// DefaultLanguage is used for scripts that name no language.
const DefaultLanguage = "python"

// minContentChars is the reviewer's floor for a non-trivial file.
const minContentChars = 20

var (
	webpageWords = []string{"موقع", "صفحه", "landing", "html", "واجهه"}
	apiWords     = []string{"api", "واجهه برمجيه", "خادم", "سيرفر", "backend", "باك اند"}
	printVerbs   = []string{"يطبع", "اطبع", "يعرض", "اعرض", "print", "prints", "say", "says"}
)

// language describes how a script is named and commented.
type language struct {
	Name     string
	File     string
	Template string
	Comment  string
}

var languages = map[string]language{
	"python":     {Name: "python", File: "main.py", Template: "script_python.tmpl"},
	"javascript": {Name: "javascript", File: "main.js", Template: "script_javascript.tmpl"},
	"go":         {Name: "go", File: "main.go", Template: "script_go.tmpl"},
	"bash":       {Name: "bash", File: "main.sh", Template: "script_bash.tmpl"},
	"typescript": {Name: "typescript", File: "main.ts", Template: "script_generic.tmpl", Comment: "//"},
	"php":        {Name: "php", File: "index.php", Template: "script_generic.tmpl", Comment: "//"},
	"java":       {Name: "java", File: "Main.java", Template: "script_generic.tmpl", Comment: "//"},
	"kotlin":     {Name: "kotlin", File: "Main.kt", Template: "script_generic.tmpl", Comment: "//"},
	"swift":      {Name: "swift", File: "main.swift", Template: "script_generic.tmpl", Comment: "//"},
	"csharp":     {Name: "csharp", File: "Program.cs", Template: "script_generic.tmpl", Comment: "//"},
	"rust":       {Name: "rust", File: "main.rs", Template: "script_generic.tmpl", Comment: "//"},
	"cpp":        {Name: "cpp", File: "main.cpp", Template: "script_generic.tmpl", Comment: "//"},
	"c":          {Name: "c", File: "main.c", Template: "script_generic.tmpl", Comment: "//"},
	"dart":       {Name: "dart", File: "main.dart", Template: "script_generic.tmpl", Comment: "//"},
	"sql":        {Name: "sql", File: "query.sql", Template: "script_generic.tmpl", Comment: "--"},
}

// languageAliases maps folded request tokens onto language names.
var languageAliases = map[string]string{
	"python":     "python",
	"py":         "python",
	"بايثون":     "python",
	"fastapi":    "python",
	"flask":      "python",
	"javascript": "javascript",
	"js":         "javascript",
	"node":       "javascript",
	"جافاسكربت":  "javascript",
	"go":         "go",
	"golang":     "go",
	"bash":       "bash",
	"shell":      "bash",
	"باش":        "bash",
	"typescript": "typescript",
	"ts":         "typescript",
	"php":        "php",
	"java":       "java",
	"جافا":       "java",
	"kotlin":     "kotlin",
	"swift":      "swift",
	"c#":         "csharp",
	"csharp":     "csharp",
	"rust":       "rust",
	"cpp":        "cpp",
	"c++":        "cpp",
	"c":          "c",
	"dart":       "dart",
	"sql":        "sql",
}

var plan = []string{
	"فهم الهدف والمتطلبات من نص المستخدم",
	"تحديد نوع المشروع (صفحة/خادم/API/سكربت)",
	"توليد ملفات أساسية مناسبة",
	"مراجعة بسيطة للكود الناتج",
	"إرجاع الملفات مع إرشادات التشغيل",
}

// Request is the detected intent of a user prompt.
type Request struct {
	Kind Kind
	Lang string
}

// Result is what the collaborator hands back to the answer pipeline.
// Order lists the keys of Files in generation order; Order[0] is the
// file shown to the user.
type Result struct {
	OK      bool
	Request Request
	Plan    []string
	Files   map[string]string
	Order   []string
	Issues  []string
	Tips    string
}

// First returns the name and content of the first generated file.
func (r Result) First() (string, string, bool) {
	if len(r.Order) == 0 {
		return "", "", false
	}
	name := r.Order[0]
	return name, r.Files[name], true
}

// fileSpec pairs an output file name with the template that renders it.
type fileSpec struct{ name, tmpl string }

// templateData is the value every file template executes against.
type templateData struct {
	Prompt  string
	Title   string
	Message string
	Lang    string
	Comment string
}

// Generator renders project files from the embedded templates. It is safe
// for concurrent use.
type Generator struct {
	templates *template.Template
	logger    *zap.Logger
}

// New parses the embedded templates.
func New(logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Generator{templates: tmpl, logger: logger}, nil
}

// Detect works out what kind of project the prompt asks for and, for
// scripts, which language.
func Detect(prompt string) Request {
	folded := textnorm.Fold(prompt)
	req := Request{Kind: KindScript}
	if containsAny(folded, webpageWords) {
		req.Kind = KindWebpage
	}
	if containsAny(folded, apiWords) {
		req.Kind = KindAPI
	}
	for _, tok := range codeTokens(folded) {
		if lang, ok := languageAliases[tok]; ok {
			req.Lang = lang
			break
		}
	}
	return req
}

// Generate builds the files for prompt and reviews them.
func (g *Generator) Generate(ctx context.Context, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCollaboratorFailed, err)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, fmt.Errorf("%w: empty request", ErrCollaboratorFailed)
	}

	req := Detect(prompt)
	data := templateData{
		Prompt:  singleLine(prompt),
		Title:   singleLine(prompt),
		Message: extractMessage(prompt),
	}

	res := Result{
		Request: req,
		Plan:    append([]string(nil), plan...),
		Files:   make(map[string]string),
	}

	var files []fileSpec
	switch req.Kind {
	case KindWebpage:
		files = append(files,
			fileSpec{"index.html", "webpage_index.html.tmpl"},
			fileSpec{"style.css", "webpage_style.css.tmpl"},
			fileSpec{"main.js", "webpage_main.js.tmpl"},
		)
		res.Tips = "افتح index.html في المتصفح."
	case KindAPI:
		files = append(files, fileSpec{"app.py", "api_app.py.tmpl"})
		res.Tips = "pip install fastapi uvicorn && python app.py"
	default:
		lang, ok := languages[req.Lang]
		if !ok {
			lang = languages[DefaultLanguage]
			res.Request.Lang = DefaultLanguage
		}
		data.Lang = lang.Name
		data.Comment = lang.Comment
		files = append(files, fileSpec{lang.File, lang.Template})
		res.Tips = "انسخ الكود وشغله باللغة المناسبة."
	}

	for _, f := range files {
		content, err := g.render(f.tmpl, data)
		if err != nil {
			g.logger.Warn("Template render failed", zap.String("template", f.tmpl), zap.Error(err))
			return Result{}, fmt.Errorf("%w: %s: %w", ErrCollaboratorFailed, f.name, err)
		}
		res.Files[f.name] = content
		res.Order = append(res.Order, f.name)
	}

	res.Issues = Review(res.Order, res.Files)
	res.OK = true
	g.logger.Debug("Generated project",
		zap.String("kind", string(res.Request.Kind)),
		zap.String("lang", res.Request.Lang),
		zap.Int("files", len(res.Order)),
		zap.Int("issues", len(res.Issues)))
	return res, nil
}

func (g *Generator) render(name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := g.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// Review flags files that are too short to be useful and HTML files that
// are missing the root element.
func Review(order []string, files map[string]string) []string {
	var issues []string
	for _, name := range order {
		content := files[name]
		if utf8.RuneCountInString(strings.TrimSpace(content)) < minContentChars {
			issues = append(issues, fmt.Sprintf("%s: المحتوى قصير جدا.", name))
		}
		if strings.HasSuffix(name, ".html") && !strings.Contains(strings.ToLower(content), "<html") {
			issues = append(issues, fmt.Sprintf("%s: ملف HTML يبدو ناقص الوسوم الأساسية.", name))
		}
	}
	return issues
}

// extractMessage returns the words after a print verb, or a greeting.
func extractMessage(prompt string) string {
	fields := strings.Fields(prompt)
	for i, f := range fields {
		for _, verb := range printVerbs {
			if textnorm.Fold(f) == verb && i+1 < len(fields) {
				return sanitize(strings.Join(fields[i+1:], " "))
			}
		}
	}
	return "مرحبا بالعالم"
}

// sanitize drops characters that would end a string literal or trigger
// shell expansion in the generated code.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '`', '$':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "مرحبا بالعالم"
	}
	return s
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// codeTokens splits folded text keeping '#' and '+' so that c# and c++
// survive as tokens.
func codeTokens(folded string) []string {
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' || r == '+')
	})
}
