// Package narrative generates the human-readable candidate description.
// Describe never fails: every error becomes placeholder text so the record
// can still be saved.
package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"profilescrape-engine/internal/domain"
	"profilescrape-engine/internal/profile"
)

const (
	MissingKeyText    = "Description could not be generated. API key is missing."
	EmptyResponseText = "Could not parse description from API response."
	DefaultModel      = "gemini-2.5-flash"
)

var (
	ErrMissingAPIKey = errors.New("gemini api key is missing")
	ErrEmptyResponse = errors.New("empty generation response")
)

// TransportError wraps a failed call to the generation API.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

type Options struct {
	Model string
	// APIKey is consulted on every call so a key stored at runtime is
	// picked up without a restart.
	APIKey  func() string
	BaseURL string
	Logger  *zap.Logger
}

type Generator struct {
	model   string
	apiKey  func() string
	baseURL string
	log     *zap.Logger
}

func New(opts Options) *Generator {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.APIKey == nil {
		opts.APIKey = func() string { return "" }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Generator{model: opts.Model, apiKey: opts.APIKey, baseURL: opts.BaseURL, log: opts.Logger.Named("narrative")}
}

// Describe returns the generated description or a placeholder explaining
// why there is none.
func (g *Generator) Describe(ctx context.Context, rec domain.ProfileRecord) string {
	text, err := g.Generate(ctx, rec)
	var te *TransportError
	switch {
	case err == nil:
		return text
	case errors.Is(err, ErrMissingAPIKey):
		g.log.Warn("api key not set, skipping description")
		return MissingKeyText
	case errors.Is(err, ErrEmptyResponse):
		g.log.Warn("generation returned no text")
		return EmptyResponseText
	case errors.As(err, &te):
		g.log.Error("generation request failed", zap.Error(err))
		return "Error generating description: " + te.Err.Error()
	default:
		g.log.Error("generation failed", zap.Error(err))
		return "Error generating description: " + err.Error()
	}
}

func (g *Generator) Generate(ctx context.Context, rec domain.ProfileRecord) (string, error) {
	key := strings.TrimSpace(g.apiKey())
	if key == "" {
		return "", ErrMissingAPIKey
	}
	prompt, err := Prompt(rec)
	if err != nil {
		return "", err
	}

	cfg := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("create client: %w", err)}
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	g.log.Debug("description generated", zap.String("candidate", rec.CandidateName), zap.Int("chars", len(text)))
	return text, nil
}

const promptTemplate = `
You are an expert data formatter. Your task is to take raw JSON data about a professional candidate and reformat it into a clean, human-readable description using Markdown.
Do not write a new summary paragraph or interpret the data. Simply present all the provided data in a structured and organized way under the following headings: Overview, About, Experience, Education, and Skills.
Use bold text for labels (like **Name:** or **Position:**) and bullet points for lists. For the Skills section, list each primary skill and then its nested details.
Here is the candidate's data in JSON format:
%s
Generate the clean description based on these instructions.
`

// Prompt renders the formatting instructions around the record's
// allow-listed fields.
func Prompt(rec domain.ProfileRecord) (string, error) {
	b, err := json.MarshalIndent(profile.Payload(rec), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return fmt.Sprintf(promptTemplate, b), nil
}
