package agent

import (
	"embed"
	"strings"
	"text/template"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// DefaultSystemInstruction opens every answer prompt.
const DefaultSystemInstruction = `You are the Jenkins Assistant, a helpful expert on Jenkins, its plugins and
continuous integration. Answer the user's question using the context below and
the conversation so far. Prefer the context over prior knowledge; when the
context is not enough, say what is missing instead of guessing. Format code and
configuration as fenced code blocks.`

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").ParseFS(promptFS, "prompts/*.tmpl"))

type historyLine struct {
	Speaker string
	Content string
}

func speaker(role models.Role) string {
	switch role {
	case models.RoleUser:
		return "User"
	case models.RoleSystem:
		return "System"
	default:
		return "Jenkins Assistant"
	}
}

func render(name string, data any) string {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		// Templates are parsed at init and only receive plain fields.
		panic(err)
	}
	return b.String()
}

func classifyPrompt(query string) string {
	return render("classify.tmpl", struct{ Query string }{query})
}

func splitPrompt(query string) string {
	return render("split.tmpl", struct{ Query string }{query})
}

func retrieverPrompt(query, tools string) string {
	return render("retriever.tmpl", struct{ Query, Tools string }{query, tools})
}

func relevancePrompt(query, context string) string {
	return render("relevance.tmpl", struct{ Query, Context string }{query, context})
}

func answerPrompt(system string, history []models.Turn, context, query string) string {
	lines := make([]historyLine, 0, len(history))
	for _, t := range history {
		lines = append(lines, historyLine{Speaker: speaker(t.Role), Content: t.Content})
	}
	return render("answer.tmpl", struct {
		System  string
		History []historyLine
		Context string
		Query   string
	}{system, lines, context, strings.TrimSpace(query)})
}

func logSummaryPrompt(log, errorType string) string {
	return render("log_summary.tmpl", struct{ Log, ErrorType string }{log, errorType})
}
