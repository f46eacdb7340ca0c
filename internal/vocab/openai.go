package vocab

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kotoba-ai/kotoba/pkg/Logger"
)

type openAIAnalyzer struct {
	client openai.Client
	model  string
	logger *Logger.Logger
}

// NewOpenAIAnalyzer builds an Analyzer backed by the OpenAI chat API in
// JSON mode.
func NewOpenAIAnalyzer(apiKey, model string, logger *Logger.Logger) Analyzer {
	return &openAIAnalyzer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

// Analyze implements Analyzer.
func (a *openAIAnalyzer) Analyze(ctx context.Context, fragment string, contextTurns []string) ([]Candidate, error) {
	chatCompletion, err := a.client.Chat.Completions.New(
		ctx,
		openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(analysisSystemPrompt),
				openai.UserMessage(analysisPrompt(fragment, contextTurns)),
			},
			Model:       openai.ChatModel(a.model),
			Temperature: openai.Float(0.3),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
			},
		},
	)
	if err != nil {
		return nil, &AnalysisError{Fragment: fragment, Err: err}
	}
	if len(chatCompletion.Choices) == 0 {
		return nil, &AnalysisError{Fragment: fragment, Err: fmt.Errorf("empty completion")}
	}

	candidates, err := parseCandidates(chatCompletion.Choices[0].Message.Content)
	if err != nil {
		return nil, &AnalysisError{Fragment: fragment, Err: err}
	}
	a.logger.Debugf("Analysis returned %d candidates for %q", len(candidates), truncate(fragment, 30))
	return candidates, nil
}
