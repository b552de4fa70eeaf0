package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/quorumlabs/lexvault/internal/core"
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	if dim <= 0 {
		dim = 768
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: dim}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Dim() int {
	return g.dim
}

// EmbedText embeds one text with the task type matching the retrieval mode.
// Index-time content uses the document task, search queries the query task;
// mixing them degrades similarity scores.
func (g *GeminiEmbedder) EmbedText(ctx context.Context, text string, mode core.EmbedMode) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	em := g.client.EmbeddingModel(g.modelName)
	switch mode {
	case core.EmbedModeQuery:
		em.TaskType = genai.TaskTypeRetrievalQuery
	default:
		em.TaskType = genai.TaskTypeRetrievalDocument
	}

	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding response")
	}
	if len(resp.Embedding.Values) != g.dim {
		return nil, fmt.Errorf("gemini embed: got %d dimensions, want %d", len(resp.Embedding.Values), g.dim)
	}
	return resp.Embedding.Values, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
