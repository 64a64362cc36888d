package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutritionagent/llm"
)

// mockBedrockClient implements bedrockRuntimeClient for testing
type mockBedrockClient struct {
	response *bedrockruntime.ConverseOutput
	err      error
	lastIn   *bedrockruntime.ConverseInput
}

func (m *mockBedrockClient) Converse(ctx context.Context, input *bedrockruntime.ConverseInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.lastIn = input
	return m.response, m.err
}

func intentRequest() llm.Request {
	return llm.Request{
		Name:   "record_intent",
		System: "classify",
		User:   "2 apples for breakfast",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"type":      {Type: "string"},
				"reasoning": {Type: "string"},
			},
			Required: []string{"type", "reasoning"},
		},
	}
}

func usage() *types.TokenUsage {
	return &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5), TotalTokens: aws.Int32(15)}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		input    LLMOptions
		expected LLMOptions
	}{
		{
			name:  "empty options uses defaults",
			input: LLMOptions{},
			expected: LLMOptions{
				ModelID:     defaultModelID,
				MaxTokens:   defaultMaxTokens,
				Temperature: defaultTemperature,
				TopP:        defaultTopP,
			},
		},
		{
			name:     "custom options preserved",
			input:    LLMOptions{ModelID: "custom-model", MaxTokens: 2048, Temperature: 0.5, TopP: 0.8},
			expected: LLMOptions{ModelID: "custom-model", MaxTokens: 2048, Temperature: 0.5, TopP: 0.8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(&mockBedrockClient{}, tt.input)
			assert.Equal(t, tt.expected, client.opts)
		})
	}
}

func TestClient_Complete(t *testing.T) {
	tests := []struct {
		name     string
		response *bedrockruntime.ConverseOutput
		err      error
		want     string
		wantErr  bool
	}{
		{
			name: "forced tool use returns tool input",
			response: &bedrockruntime.ConverseOutput{
				StopReason: types.StopReasonToolUse,
				Usage:      usage(),
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberToolUse{
								Value: types.ToolUseBlock{
									ToolUseId: aws.String("tu-1"),
									Name:      aws.String("record_intent"),
									Input:     document.NewLazyDocument(map[string]any{"type": "new_meal", "reasoning": "food"}),
								},
							},
						},
					},
				},
			},
			want: `{"type":"new_meal","reasoning":"food"}`,
		},
		{
			name: "text fallback when no tool use",
			response: &bedrockruntime.ConverseOutput{
				StopReason: types.StopReasonEndTurn,
				Usage:      usage(),
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberText{Value: `Sure: {"type":"update_meal","reasoning":"change"}`},
						},
					},
				},
			},
			want: `{"type":"update_meal","reasoning":"change"}`,
		},
		{
			name: "no tool use and no json",
			response: &bedrockruntime.ConverseOutput{
				StopReason: types.StopReasonEndTurn,
				Usage:      usage(),
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role:    types.ConversationRoleAssistant,
						Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "no idea"}},
					},
				},
			},
			wantErr: true,
		},
		{
			name:     "max tokens",
			response: &bedrockruntime.ConverseOutput{StopReason: types.StopReasonMaxTokens, Usage: usage()},
			wantErr:  true,
		},
		{
			name:     "content filtered",
			response: &bedrockruntime.ConverseOutput{StopReason: types.StopReasonContentFiltered, Usage: usage()},
			wantErr:  true,
		},
		{
			name:    "converse error",
			err:     errors.New("throttled"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockBedrockClient{response: tt.response, err: tt.err}
			client := NewClient(mock, LLMOptions{})

			got, err := client.Complete(context.Background(), intentRequest())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestClient_CompleteForcesOutputTool(t *testing.T) {
	mock := &mockBedrockClient{response: &bedrockruntime.ConverseOutput{StopReason: types.StopReasonMaxTokens}}
	client := NewClient(mock, LLMOptions{ModelID: "m"})

	_, _ = client.Complete(context.Background(), intentRequest())
	require.NotNil(t, mock.lastIn)

	choice, ok := mock.lastIn.ToolConfig.ToolChoice.(*types.ToolChoiceMemberTool)
	require.True(t, ok)
	assert.Equal(t, "record_intent", aws.ToString(choice.Value.Name))
	require.Len(t, mock.lastIn.ToolConfig.Tools, 1)
	assert.Equal(t, "m", aws.ToString(mock.lastIn.ModelId))
}

func TestNormalizeInput(t *testing.T) {
	in := map[string]any{
		"foods": []any{map[string]any{"quantity": 2.0, "name": "apple"}},
	}
	out := normalizeInput(in).(map[string]any)
	foods := out["foods"].([]any)
	assert.Equal(t, 2.0, foods[0].(map[string]any)["quantity"])
}
