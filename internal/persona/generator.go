// Package persona generates persona instructions with a two-stage model
// call and resolves which persona answers a post.
package persona

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"forllm/internal/domain"
)

//go:embed templates/expansion.txt
var expansionTemplate string

//go:embed templates/refinement.txt
var refinementTemplate string

const (
	// DefaultStageTimeout bounds each of the two model calls.
	DefaultStageTimeout = 300 * time.Second

	// DefaultName is used when neither the override, the model output nor
	// the hint names the persona.
	DefaultName = "Generated Persona"

	nameHeading = "## Persona Name:"
)

// DefaultHeadings is the section layout requested when the caller gives none.
var DefaultHeadings = []string{
	"## Persona Name:",
	"## Core Identity:",
	"## Key Personality Traits:",
	"## Knowledge Domain & Expertise:",
	"## Speaking Style & Tone:",
	"## Interaction Guidelines & Behaviors:",
	"## Forbidden Actions & Topics:",
	"## Example Phrases:",
}

var (
	// ErrNoModel is returned when no generation model is known.
	ErrNoModel = errors.New("persona: llm_model_for_generation is required")
	// ErrEmptyOutput is returned when a stage produced no text.
	ErrEmptyOutput = errors.New("persona: model returned empty response")
)

// Result is a generated persona ready to store.
type Result struct {
	Name         string
	Instructions string
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithStageTimeout overrides DefaultStageTimeout.
func WithStageTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.stageTimeout = d
		}
	}
}

// Generator runs the expansion and refinement stages.
type Generator struct {
	client       domain.ModelClient
	logger       *zap.Logger
	stageTimeout time.Duration
}

// NewGenerator returns a Generator. client must not be nil.
func NewGenerator(client domain.ModelClient, opts ...Option) *Generator {
	if client == nil {
		panic("persona: client must not be nil")
	}
	g := &Generator{client: client, logger: zap.NewNop(), stageTimeout: DefaultStageTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate expands the hints into notes, refines the notes into a persona
// document and derives the persona name.
func (g *Generator) Generate(ctx context.Context, p domain.GeneratePersonaParams) (Result, error) {
	model := strings.TrimSpace(p.ModelForGeneration)
	if model == "" {
		return Result{}, ErrNoModel
	}
	hints := p.InputDetails

	expansion := fill(expansionTemplate, map[string]string{
		"name_hint":        hints.NameHint,
		"description_hint": hints.DescriptionHint,
	})
	notes, err := g.stage(ctx, "expansion", model, expansion)
	if err != nil {
		return Result{}, err
	}

	prefs := p.OutputPreferences
	headings := prefs.DesiredHeadings
	if len(headings) == 0 {
		headings = DefaultHeadings
	}
	refinement := fill(refinementTemplate, map[string]string{
		"brainstormed_text_from_stage_1":   notes,
		"name_hint":                        hints.NameHint,
		"description_hint":                 hints.DescriptionHint,
		"desired_headings_list_or_default": strings.Join(headings, ", "),
		"target_persona_name_override":     p.TargetPersonaNameOverride,
		"tone_preference":                  prefs.TonePreference,
		"length_preference":                prefs.LengthPreference,
	})
	doc, err := g.stage(ctx, "refinement", model, refinement)
	if err != nil {
		return Result{}, err
	}

	res := Finalize(doc, p.TargetPersonaNameOverride, hints.NameHint)
	g.logger.Info("persona generated",
		zap.String("name", res.Name),
		zap.String("model", model),
		zap.Int("instructions_len", len(res.Instructions)))
	return res, nil
}

func (g *Generator) stage(ctx context.Context, name, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.stageTimeout)
	defer cancel()

	g.logger.Debug("persona stage started", zap.String("stage", name), zap.String("model", model))
	out, err := g.client.Generate(ctx, model, prompt)
	if err != nil {
		return "", fmt.Errorf("%s stage failed: %w", name, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%s stage failed: %w", name, ErrEmptyOutput)
	}
	return out, nil
}

func fill(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Finalize picks the persona name (override, then the "## Persona Name:"
// line, then the hint, then DefaultName) and strips the name section from
// the instructions when another heading follows it.
func Finalize(doc, override, nameHint string) Result {
	name := strings.TrimSpace(override)
	if name == "" {
		if parsed, ok := ExtractName(doc); ok {
			name = parsed
		} else if h := strings.TrimSpace(nameHint); h != "" {
			name = h
		} else {
			name = DefaultName
		}
	}

	instructions := doc
	if strings.TrimSpace(override) == "" {
		if _, after, ok := strings.Cut(doc, nameHeading); ok {
			if _, rest, more := strings.Cut(after, "##"); more {
				instructions = "##" + rest
			}
		}
	}
	return Result{Name: name, Instructions: strings.TrimSpace(instructions)}
}

// ExtractName returns the first line of the "## Persona Name:" section.
func ExtractName(doc string) (string, bool) {
	_, after, ok := strings.Cut(doc, nameHeading)
	if !ok {
		return "", false
	}
	section, _, _ := strings.Cut(after, "##")
	section = strings.TrimSpace(section)
	if section == "" {
		return "", false
	}
	line, _, _ := strings.Cut(section, "\n")
	line = strings.TrimSpace(line)
	return line, line != ""
}
