package llm

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/models"
)

// GeminiBrainBuilder consolidates all extracted document text for a subject
// into the derived knowledge artifact.
type GeminiBrainBuilder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiBrainBuilder(ctx context.Context, apiKey, modelName string) (*GeminiBrainBuilder, error) {
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
	return &GeminiBrainBuilder{client: cl, modelName: modelName}, nil
}

func (g *GeminiBrainBuilder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiBrainBuilder) BuildBrain(ctx context.Context, subject *models.Subject, extracted map[string]string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	resp, err := m.GenerateContent(ctx, genai.Text(buildPrompt(subject, extracted)))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

const systemPrompt = "You consolidate source documents into a single structured knowledge base."

// buildPrompt orders documents by ID so reruns produce the same request.
func buildPrompt(subject *models.Subject, extracted map[string]string) string {
	ids := make([]string, 0, len(extracted))
	for id := range extracted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s (%s)\n\n", subject.Name, subject.Kind)
	for _, id := range ids {
		fmt.Fprintf(&b, "--- document %s ---\n%s\n\n", id, extracted[id])
	}
	return b.String()
}

var _ core.ArtifactBuilder = (*GeminiBrainBuilder)(nil)
