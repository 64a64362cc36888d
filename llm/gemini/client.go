package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"nutritionagent"
	"nutritionagent/llm"
)

const defaultModel = "gemini-2.5-flash"

var ErrEmptyResponse = errors.New("gemini returned no content")

type genaiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements llm.Completer and the image Describer on top of the Gemini API.
type Client struct {
	models genaiModels
	model  string
}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newClient(cli.Models, model), nil
}

func newClient(models genaiModels, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{models: models, model: model}
}

// Complete requests application/json output. The schema is embedded in the prompt.
func (c *Client) Complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	slog.Info("LLM_CLIENT: Invoked", "backend", "gemini", "request", req.Name)

	schema, err := json.Marshal(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	user := req.User + "\n\nRespond with a single JSON object matching this JSON schema:\n" + string(schema)

	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: user}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.System}}},
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.2),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return llm.ExtractJSON(text)
}

const describePrompt = `List every food and drink visible in this photo as one short sentence a person would type when logging a meal, including approximate quantities and visible preparation (for example "2 fried eggs, 1 slice of toast and a glass of orange juice"). Use brand names only when a package label is readable. Reply with the sentence only.`

// Describe turns a meal photo into a food description that the text pipeline can parse.
func (c *Client) Describe(ctx context.Context, img nutritionagent.Image) (string, error) {
	slog.Info("LLM_CLIENT: Describing image", "backend", "gemini", "mime_type", img.MIMEType, "bytes", len(img.Data))

	if len(img.Data) == 0 {
		return "", fmt.Errorf("%w: empty image", nutritionagent.ErrTranscription)
	}

	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
				{Text: describePrompt},
			},
		}},
		&genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.2)},
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", nutritionagent.ErrTranscription, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", nutritionagent.ErrTranscription, err)
	}
	return strings.TrimSpace(text), nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}
