// Package gemini backs the reasoner, embedder and image analyzer with the
// Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
)

const (
	DefaultModel          = "gemini-2.5-flash"
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Client wraps a genai client with the models used by the pipeline.
type Client struct {
	client     *genai.Client
	model      string
	embedModel string
}

// New creates a Gemini client. An empty model name selects the default.
func New(ctx context.Context, apiKey, model, embedModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if embedModel == "" {
		embedModel = DefaultEmbeddingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, model: model, embedModel: embedModel}, nil
}

// Complete sends one prompt and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// Embed returns a retrieval embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	result, err := c.client.Models.EmbedContent(ctx, c.embedModel, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("gemini embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

const imagePrompt = `Describe this retail security camera frame.
Reply with exactly three lines:
CAPTION: <one sentence>
PEOPLE: <integer count of people>
TEXT: <any visible text, or empty>`

// AnalyzeImage asks the multimodal model for a caption, a people count and
// visible text. Object detection is not available on this backend.
func (c *Client) AnalyzeImage(ctx context.Context, image []byte) (incident.VisionObservation, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(imagePrompt),
			genai.NewPartFromBytes(image, "image/jpeg"),
		}, genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return incident.VisionObservation{}, fmt.Errorf("gemini analyze image: %w", err)
	}
	return parseImageReply(resp.Text()), nil
}

func parseImageReply(text string) incident.VisionObservation {
	obs := incident.VisionObservation{Processed: true}
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "CAPTION":
			obs.Caption = value
		case "PEOPLE":
			fmt.Sscanf(value, "%d", &obs.People)
		case "TEXT":
			obs.Text = value
		}
	}
	return obs
}
