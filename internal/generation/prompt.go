package generation

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed prompts/batch.tmpl
var defaultPromptTemplate string

// promptItem is one numbered label in the rendered prompt.
type promptItem struct {
	Number int
	Label  string
}

// promptData represents the data passed to the prompt template.
type promptData struct {
	Items      []promptItem
	Correction string
}

// DefaultPromptTemplate returns the parsed built-in batch prompt.
func DefaultPromptTemplate() *template.Template {
	return template.Must(template.New("batch").Parse(defaultPromptTemplate))
}

// LoadPromptTemplate reads and parses a batch prompt template from path.
// The template receives .Items (each with .Number and .Label) and an optional
// .Correction describing why the previous reply was rejected.
func LoadPromptTemplate(path string) (*template.Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v",
			ErrInvalidConfig, path, err)
	}

	tmpl, err := template.New("batch").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}

	// Render once against sample data so a broken template fails at startup.
	if _, err := renderPrompt(tmpl, []string{"example"}, "sample correction"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, labels []string, correction string) (string, error) {
	data := promptData{
		Items:      make([]promptItem, len(labels)),
		Correction: correction,
	}
	for i, label := range labels {
		data.Items[i] = promptItem{Number: i + 1, Label: label}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
