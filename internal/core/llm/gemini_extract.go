package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/quorumlabs/lexvault/internal/core"
)

// maxExtractChars caps how much document text goes into one extraction call.
// Legal documents front-load their identity (title, parties, dates), so the
// head of the text carries nearly all the metadata signal.
const maxExtractChars = 20000

type GeminiExtractor struct {
	client    *genai.Client
	modelName string
}

func NewGeminiExtractor(ctx context.Context, apiKey, modelName string) (*GeminiExtractor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiExtractor{client: cl, modelName: modelName}, nil
}

func (g *GeminiExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// insightsSchema constrains the model to the exact JSON shape of
// DocumentInsights so the response always unmarshals.
var insightsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":     {Type: genai.TypeString, Description: "2-4 sentence summary of the document"},
		"docType":     {Type: genai.TypeString, Description: "document category, e.g. resolution, bylaw, contract, policy, minutes"},
		"title":       {Type: genai.TypeString, Description: "short working title"},
		"longTitle":   {Type: genai.TypeString, Description: "full formal title"},
		"lastUpdated": {Type: genai.TypeString, Description: "most recent date mentioned, ISO 8601 if possible"},
		"keyEntities": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"subjects":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"confidence":  {Type: genai.TypeNumber, Description: "0-1 confidence in the extracted fields"},
	},
	Required: []string{"summary", "docType", "title", "confidence"},
}

const extractSystemPrompt = `You are a document analyst for an organizational archive of legal and
governance documents. Given the full text of one document, extract its
metadata faithfully. Never invent facts that are not in the text; lower the
confidence score instead.`

// ExtractInsights runs one schema-constrained generation over the document
// text and unmarshals the structured result.
func (g *GeminiExtractor) ExtractInsights(ctx context.Context, text string) (*core.DocumentInsights, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty document text")
	}
	if len(text) > maxExtractChars {
		text = text[:maxExtractChars]
	}

	m := g.client.GenerativeModel(g.modelName)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(extractSystemPrompt)},
	}
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = insightsSchema

	resp, err := m.GenerateContent(ctx, genai.Text("Document text:\n\n"+text))
	if err != nil {
		return nil, fmt.Errorf("gemini extract: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini extract: empty response")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}

	var out core.DocumentInsights
	if err := json.Unmarshal([]byte(b.String()), &out); err != nil {
		return nil, fmt.Errorf("gemini extract: decode response: %w", err)
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("gemini extract: response missing summary")
	}
	return &out, nil
}

var _ core.MetadataExtractor = (*GeminiExtractor)(nil)
