// Package prompts holds the prompt templates and fixed user-facing texts.
// Every text can be overridden from a TOML file; keys left out keep the
// built-in value.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"
)

// ErrInvalidPrompts is returned for unreadable TOML or templates that do not
// parse or render.
var ErrInvalidPrompts = errors.New("invalid prompts")

// Built-in texts.
const (
	DefaultSystem = `You are a helpful assistant. Answer the question using the context below, the conversation so far, and the question itself. Decide for yourself how much to rely on each.
Explain complex things simply and be friendly. If the context does not contain the answer, say so.

context: {{.Context}}
pages: {{.Pages}}`

	DefaultDecompose = `Your task is to decompose a user query into a set of sub-queries that can be used to retrieve relevant information from a knowledge base. Each sub-query should focus on a specific aspect or entity mentioned in the original query.

Identify the key entities, concepts and relationships in the query. Generate concise, focused sub-queries, each targeting one piece of information needed to answer the original query. Each sub-query must be self-contained.

Output the sub-queries as a numbered list. Create at most 5 sub-queries.

For example:
User Query: What are the symptoms and treatment options for the common cold?
Decomposed Sub-queries:
1. What are the symptoms of the common cold?
2. What are the treatment options for the common cold?

User Query: Compare and contrast the performance of Python and Java.
Decomposed Sub-queries:
1. What are the performance characteristics of Python?
2. What are the performance characteristics of Java?
3. How does the performance of Python compare to Java?`

	DefaultParaphrase = `Your sole job is to generate exactly {{.N}} paraphrased search queries for the user's query.
The input is a JSON object with a "query" field.
Output must be a valid JSON array of strings and nothing else: no numbering, no bullets, no commentary.
Each string should be a single query closely related to the original.

Example output:
["What are alternatives to aspirin for pain relief?", "List adverse reactions of aspirin use", "How does aspirin affect the stomach?"]`

	DefaultFallback = "I couldn't find anything in the documents that answers this question."

	DefaultGuidance = "Please enter a question about your documents."
)

// Texts are the raw, overridable prompt texts.
type Texts struct {
	System     string `toml:"system"`
	Decompose  string `toml:"decompose"`
	Paraphrase string `toml:"paraphrase"`
	Fallback   string `toml:"fallback"`
	Guidance   string `toml:"guidance"`
}

// Prompts renders prompts from parsed templates. It is safe for concurrent use.
type Prompts struct {
	texts      Texts
	system     *template.Template
	paraphrase *template.Template
}

// Default returns the built-in prompts.
func Default() *Prompts {
	p, err := New(Texts{})
	if err != nil {
		panic(fmt.Sprintf("built-in prompts: %v", err))
	}
	return p
}

// New parses texts, using the built-in value for every empty field.
func New(texts Texts) (*Prompts, error) {
	texts = withDefaults(texts)

	system, err := template.New("system").Option("missingkey=error").Parse(texts.System)
	if err != nil {
		return nil, fmt.Errorf("%w: system: %v", ErrInvalidPrompts, err)
	}
	paraphrase, err := template.New("paraphrase").Option("missingkey=error").Parse(texts.Paraphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: paraphrase: %v", ErrInvalidPrompts, err)
	}

	p := &Prompts{texts: texts, system: system, paraphrase: paraphrase}

	// Render once so a template referencing unknown fields fails at load.
	if _, err := p.System("", ""); err != nil {
		return nil, err
	}
	if _, err := p.Paraphrase(1); err != nil {
		return nil, err
	}
	return p, nil
}

func withDefaults(t Texts) Texts {
	if strings.TrimSpace(t.System) == "" {
		t.System = DefaultSystem
	}
	if strings.TrimSpace(t.Decompose) == "" {
		t.Decompose = DefaultDecompose
	}
	if strings.TrimSpace(t.Paraphrase) == "" {
		t.Paraphrase = DefaultParaphrase
	}
	if strings.TrimSpace(t.Fallback) == "" {
		t.Fallback = DefaultFallback
	}
	if strings.TrimSpace(t.Guidance) == "" {
		t.Guidance = DefaultGuidance
	}
	return t
}

// LoadFile reads overrides from a TOML file:
//
//	system = "..."
//	decompose = "..."
//	paraphrase = "..."
//	fallback = "..."
//	guidance = "..."
//
// An empty path returns Default.
func LoadFile(path string) (*Prompts, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}

	var texts Texts
	md, err := toml.DecodeFile(path, &texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPrompts, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s: unknown keys %v", ErrInvalidPrompts, path, undecoded)
	}
	return New(texts)
}

// System renders the answering system prompt.
func (p *Prompts) System(context, pages string) (string, error) {
	var b strings.Builder
	err := p.system.Execute(&b, struct{ Context, Pages string }{context, pages})
	if err != nil {
		return "", fmt.Errorf("%w: rendering system: %v", ErrInvalidPrompts, err)
	}
	return b.String(), nil
}

// Decompose returns the decomposition system prompt.
func (p *Prompts) Decompose() string {
	return p.texts.Decompose
}

// Paraphrase renders the paraphrase system prompt for n variants.
func (p *Prompts) Paraphrase(n int) (string, error) {
	var b strings.Builder
	if err := p.paraphrase.Execute(&b, struct{ N int }{n}); err != nil {
		return "", fmt.Errorf("%w: rendering paraphrase: %v", ErrInvalidPrompts, err)
	}
	return b.String(), nil
}

// Fallback is the answer given when nothing relevant was found.
func (p *Prompts) Fallback() string {
	return p.texts.Fallback
}

// Guidance is the answer given for an empty question.
func (p *Prompts) Guidance() string {
	return p.texts.Guidance
}
