package vocab

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kotoba-ai/kotoba/pkg/Logger"
)

type geminiAnalyzer struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *Logger.Logger
}

// NewGeminiAnalyzer builds an Analyzer backed by the Gemini API, configured
// for JSON output.
func NewGeminiAnalyzer(ctx context.Context, apiKey, modelName string, logger *Logger.Logger) (Analyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.Temperature = &[]float32{0.3}[0]
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(analysisSystemPrompt)},
	}

	return &geminiAnalyzer{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Analyze implements Analyzer.
func (g *geminiAnalyzer) Analyze(ctx context.Context, fragment string, contextTurns []string) ([]Candidate, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(analysisPrompt(fragment, contextTurns)))
	if err != nil {
		return nil, &AnalysisError{Fragment: fragment, Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &AnalysisError{Fragment: fragment, Err: fmt.Errorf("no response candidates received")}
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	candidates, err := parseCandidates(b.String())
	if err != nil {
		return nil, &AnalysisError{Fragment: fragment, Err: err}
	}
	g.logger.Debugf("Gemini analysis returned %d candidates for %q", len(candidates), truncate(fragment, 30))
	return candidates, nil
}
