// Package extraction reads PDF bank statements with a Gemini model.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"statement-reconciler/internal/parsers"
	"statement-reconciler/pkg/logger"
)

// DefaultModelName is the Gemini model used when none is configured
const DefaultModelName = "gemini-2.5-flash"

const statementPrompt = "You are a parser for Brazilian bank account statements in PDF.\n\n" +
	"Task:\n" +
	"- Read ALL movements listed in the attached statement.\n" +
	"- Ignore balance lines (SALDO, SALDO ANTERIOR, SALDO DO DIA) and totals.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n\n" +
	"Output a single JSON object with this shape:\n" +
	"{\n" +
	"  \"transactions\": [\n" +
	"    {\"date\": \"YYYY-MM-DD\", \"description\": string, \"amount\": number, \"type\": \"credit\" | \"debit\"}\n" +
	"  ],\n" +
	"  \"bankInfo\": {\"agencia\": string or null, \"conta\": string or null, \"cnpj\": string or null}\n" +
	"}\n\n" +
	"Rules:\n" +
	"- \"amount\" is positive for money in and negative for money out.\n" +
	"- \"type\" must agree with the sign of \"amount\".\n" +
	"- Copy agencia and conta exactly as printed, including check digits.\n" +
	"- If a field cannot be determined, use null.\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n"

// contentGenerator is the part of the genai client the extractor needs
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures the Gemini extractor
type Config struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// Timeout bounds a single extraction; zero leaves the caller's context alone
	Timeout time.Duration `mapstructure:"timeout"`
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("extractor timeout cannot be negative")
	}
	return nil
}

// GeminiExtractor implements parsers.Extractor on top of the Gemini API
type GeminiExtractor struct {
	models contentGenerator
	model  string
	config Config
	logger logger.Logger
}

// NewGeminiExtractor creates an extractor. With an empty APIKey the client
// falls back to the GOOGLE_API_KEY / GEMINI_API_KEY environment and the
// Vertex AI settings read by the genai package.
func NewGeminiExtractor(ctx context.Context, config Config) (*GeminiExtractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if config.APIKey != "" {
		clientConfig.APIKey = config.APIKey
		clientConfig.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGeminiExtractor(client.Models, config), nil
}

func newGeminiExtractor(models contentGenerator, config Config) *GeminiExtractor {
	model := config.Model
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{
		models: models,
		model:  model,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("gemini_extractor"),
	}
}

// Extract implements parsers.Extractor
func (g *GeminiExtractor) Extract(ctx context.Context, pdf []byte) (*parsers.Extraction, error) {
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: statementPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     pdf,
					},
				},
			},
		},
	}

	started := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	extraction, err := parseModelOutput(rawText)
	if err != nil {
		g.logger.WithField("response", truncate(rawText, 500)).Debug("Unparseable model response")
		return nil, err
	}

	g.logger.WithFields(logger.Fields{
		"model":        g.model,
		"transactions": len(extraction.Transactions),
		"duration":     time.Since(started).String(),
	}).Info("PDF statement extracted")

	return extraction, nil
}

// parseModelOutput accepts either the requested object or a bare array of
// transactions, which some models return despite the prompt.
func parseModelOutput(raw string) (*parsers.Extraction, error) {
	clean := cleanModelJSON(raw)

	if strings.HasPrefix(clean, "[") {
		var txs []parsers.ExtractedTransaction
		if err := json.Unmarshal([]byte(clean), &txs); err != nil {
			return nil, fmt.Errorf("unmarshal transactions array: %w", err)
		}
		return &parsers.Extraction{Transactions: txs}, nil
	}

	var extraction parsers.Extraction
	if err := json.Unmarshal([]byte(clean), &extraction); err != nil {
		return nil, fmt.Errorf("unmarshal extraction: %w", err)
	}
	return &extraction, nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON object or array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	opener, closer := "{", "}"
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		opener, closer = "[", "]"
	}

	if start := strings.Index(s, opener); start != -1 {
		if end := strings.LastIndex(s, closer); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
