package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"nutritionagent"
	"nutritionagent/llm"
)

type mockModels struct {
	resp         *genai.GenerateContentResponse
	err          error
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
}

func (m *mockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.lastContents = contents
	m.lastConfig = config
	return m.resp, m.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}}},
	}
}

func TestClient_Complete(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		err     error
		want    string
		wantErr bool
	}{
		{name: "json response", resp: textResponse(`{"type":"new_meal","reasoning":"food"}`), want: `{"type":"new_meal","reasoning":"food"}`},
		{name: "empty candidates", resp: &genai.GenerateContentResponse{}, wantErr: true},
		{name: "api error", err: errors.New("quota"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &mockModels{resp: tt.resp, err: tt.err}
			c := newClient(models, "")

			got, err := c.Complete(context.Background(), llm.Request{
				Name:   "record_intent",
				System: "sys",
				User:   "2 apples",
				Schema: &jsonschema.Schema{Type: "object"},
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
			assert.Equal(t, "application/json", models.lastConfig.ResponseMIMEType)
			assert.Contains(t, models.lastContents[0].Parts[0].Text, `"type":"object"`)
		})
	}
}

func TestClient_Describe(t *testing.T) {
	t.Run("returns trimmed description", func(t *testing.T) {
		models := &mockModels{resp: textResponse("  2 fried eggs and toast \n")}
		c := newClient(models, "gemini-test")

		got, err := c.Describe(context.Background(), nutritionagent.Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}})
		require.NoError(t, err)
		assert.Equal(t, "2 fried eggs and toast", got)
		require.NotNil(t, models.lastContents[0].Parts[0].InlineData)
		assert.Equal(t, "image/jpeg", models.lastContents[0].Parts[0].InlineData.MIMEType)
	})

	t.Run("empty image is a transcription failure", func(t *testing.T) {
		c := newClient(&mockModels{}, "")
		_, err := c.Describe(context.Background(), nutritionagent.Image{})
		assert.ErrorIs(t, err, nutritionagent.ErrTranscription)
	})

	t.Run("api error is a transcription failure", func(t *testing.T) {
		c := newClient(&mockModels{err: errors.New("blocked")}, "")
		_, err := c.Describe(context.Background(), nutritionagent.Image{MIMEType: "image/png", Data: []byte{1}})
		assert.ErrorIs(t, err, nutritionagent.ErrTranscription)
	})
}
