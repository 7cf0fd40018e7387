// Package llm answers prompts about document sections with Google's Gemini models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultModel           = "gemini-1.5-flash"
	DefaultMaxSectionChars = 30000
)

// ErrMissingAPIKey is returned when no API key was configured.
var ErrMissingAPIKey = errors.New("Gemini API Key is missing or invalid. Please check configuration.")

// Section is one named piece of context sent with a prompt.
type Section struct {
	Name    string
	Content string
}

// Config configures a Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// MaxSectionChars caps each section's content in the prompt.
	MaxSectionChars int
}

// Gemini completes prompts through the Gemini API.
type Gemini struct {
	client     *genai.Client
	model      string
	maxSection int
	logger     *log.Logger
}

// NewGemini creates a client. Without an API key the client is still returned
// and every Complete call fails with ErrMissingAPIKey.
func NewGemini(ctx context.Context, cfg Config, logger *log.Logger) (*Gemini, error) {
	if logger == nil {
		logger = log.Default()
	}
	g := &Gemini{
		model:      cfg.Model,
		maxSection: cfg.MaxSectionChars,
		logger:     logger,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.maxSection <= 0 {
		g.maxSection = DefaultMaxSectionChars
	}
	if cfg.APIKey == "" {
		logger.Printf("gemini api key is not configured")
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Complete sends prompt with sections as context and returns the model's text.
func (g *Gemini) Complete(ctx context.Context, prompt string, sections []Section) (string, error) {
	if g.client == nil {
		return "", ErrMissingAPIKey
	}

	full := BuildPrompt(prompt, sections, g.maxSection)
	g.logger.Printf("gemini request model=%s sections=%d chars=%d", g.model, len(sections), len(full))

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(full), nil)
	if err != nil {
		g.logger.Printf("gemini request failed model=%s: %v", g.model, err)
		return "", friendlyError(err)
	}
	if err := checkResponse(resp); err != nil {
		g.logger.Printf("gemini response rejected model=%s: %v", g.model, err)
		return "", err
	}

	g.logger.Printf("gemini response received model=%s elapsed=%s", g.model, time.Since(start).Round(time.Millisecond))
	return resp.Text(), nil
}

// BuildPrompt lays out the context sections followed by the user prompt.
func BuildPrompt(prompt string, sections []Section, maxSection int) string {
	var b strings.Builder
	if len(sections) == 0 {
		b.WriteString("No specific sections provided as context.\n---\n")
	} else {
		b.WriteString("Context from the provided document sections:\n---\n")
		for _, s := range sections {
			fmt.Fprintf(&b, "Section: \"%s\"\n%s\n---\n", s.Name, truncate(s.Content, maxSection))
		}
	}
	b.WriteString("\nUser Prompt: ")
	b.WriteString(prompt)
	return b.String()
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "... (truncated)"
}

// checkResponse rejects empty or blocked responses.
func checkResponse(resp *genai.GenerateContentResponse) error {
	if resp != nil && len(resp.Candidates) > 0 && resp.Text() != "" {
		return nil
	}

	msg := "Gemini response was blocked or empty."
	if resp != nil && resp.PromptFeedback != nil {
		fb := resp.PromptFeedback
		if fb.BlockReason != "" {
			msg += fmt.Sprintf(" Reason: %s.", fb.BlockReason)
		}
		var blocked []string
		for _, r := range fb.SafetyRatings {
			if r != nil && r.Blocked {
				blocked = append(blocked, string(r.Category))
			}
		}
		if len(blocked) > 0 {
			msg += fmt.Sprintf(" Blocked categories: %s.", strings.Join(blocked, ", "))
		}
	}
	return errors.New(msg)
}

// Error is a completion failure carrying a message fit for users.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func friendlyError(err error) error {
	text := err.Error()
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		text = apiErr.Message
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "api key not valid"), strings.Contains(lower, "invalid api key"):
		return &Error{Message: "Invalid Gemini API Key. Please check your .env configuration.", Err: err}
	case strings.Contains(lower, "quota"):
		return &Error{Message: "Gemini API quota exceeded. Please check your usage limits.", Err: err}
	case strings.Contains(lower, "location not supported"), strings.Contains(lower, "location is not supported"):
		return &Error{Message: "The specified model or feature may not be available in your region.", Err: err}
	}
	return &Error{Message: "Failed to get response from Gemini: " + text, Err: err}
}
