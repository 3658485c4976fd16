package generator

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"text/template"
	"time"
)

//go:embed templates
var templatesFS embed.FS

// Site file names pushed to every generated repository.
const (
	IndexFile   = "index.html"
	ReadmeFile  = "README.md"
	LicenseFile = "LICENSE"
)

const systemPrompt = `You generate single-file static web apps for GitHub Pages.
Answer with one complete HTML document only: inline all CSS and JavaScript,
load third-party libraries from a CDN if needed, and do not add explanations.`

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Brief describes the app a repository should contain.
type Brief struct {
	RepoName string
	Task     string
	Round    int
	Brief    string
	PagesURL string
}

// Site holds the rendered files of a repository, keyed by path.
type Site struct {
	Files     map[string][]byte
	Generated bool
}

// Generator renders the files of a task repository.
type Generator struct {
	completer Completer
	owner     string
	logger    *slog.Logger
	now       func() time.Time
	templates *template.Template
	fallback  []byte
}

// New creates a Generator. completer may be nil, in which case every
// repository gets the static fallback page.
func New(completer Completer, owner string, logger *slog.Logger) (*Generator, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	fallback, err := templatesFS.ReadFile("templates/" + IndexFile)
	if err != nil {
		return nil, fmt.Errorf("reading fallback page: %w", err)
	}
	return &Generator{
		completer: completer,
		owner:     owner,
		logger:    logger,
		now:       time.Now,
		templates: tmpl,
		fallback:  fallback,
	}, nil
}

// Generate renders index.html, README.md and LICENSE for b. LLM failures
// never fail generation; the static page is used instead.
func (g *Generator) Generate(ctx context.Context, b Brief) (*Site, error) {
	site := &Site{Files: make(map[string][]byte, 3)}

	site.Files[IndexFile] = g.fallback
	if g.completer != nil && strings.TrimSpace(b.Brief) != "" {
		page, err := g.completer.Complete(ctx, systemPrompt, buildPrompt(b))
		switch {
		case err != nil:
			g.logger.Warn("page generation failed, using static page", "repo", b.RepoName, "error", err)
		case !looksLikeHTML(page):
			g.logger.Warn("generated page is not html, using static page", "repo", b.RepoName)
		default:
			site.Files[IndexFile] = []byte(extractHTML(page))
			site.Generated = true
		}
	}

	readme, err := g.render("README.md.tmpl", b)
	if err != nil {
		return nil, err
	}
	site.Files[ReadmeFile] = readme

	license, err := g.render("LICENSE.tmpl", struct {
		Year  int
		Owner string
	}{Year: g.now().Year(), Owner: g.owner})
	if err != nil {
		return nil, err
	}
	site.Files[LicenseFile] = license

	return site, nil
}

func (g *Generator) render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func buildPrompt(b Brief) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s (round %d)\n", b.Task, b.Round)
	fmt.Fprintf(&sb, "Repository: %s\n\n", b.RepoName)
	sb.WriteString("Brief:\n")
	sb.WriteString(b.Brief)
	return sb.String()
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// extractHTML strips markdown code fences the model may wrap the page in.
func extractHTML(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s) + "\n"
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}
