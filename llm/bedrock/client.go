package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"nutritionagent/llm"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// Structured outputs for a single meal fit comfortably in 1k tokens.
	defaultMaxTokens = 1024

	// Low temperature and top_p keep JSON output consistent.
	defaultTemperature = 0.2
	defaultTopP        = 0.9
)

var ErrNoToolUse = errors.New("model did not call the output tool")

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type LLMOptions struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Client produces structured output by forcing Claude to call a single tool
// whose input schema is the requested output schema.
type Client struct {
	brc  bedrockRuntimeClient
	opts LLMOptions
}

func NewClient(brc bedrockRuntimeClient, opts LLMOptions) *Client {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &Client{
		brc:  brc,
		opts: opts,
	}
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	slog.Info("LLM_CLIENT: Invoked", "backend", "bedrock", "request", req.Name)

	spec, err := buildToolSpec(req)
	if err != nil {
		return nil, err
	}

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.opts.ModelID),
		System:  []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.User}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
		ToolConfig: &types.ToolConfiguration{
			Tools: []types.Tool{&types.ToolMemberToolSpec{Value: spec}},
			ToolChoice: &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(req.Name)},
			},
		},
	}

	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("LLM_CLIENT: Bedrock invoke failed", "error", err, "request", req.Name)
		return nil, fmt.Errorf("failed to invoke bedrock: %w", err)
	}

	if out.Usage != nil {
		slog.Info("LLM_CLIENT: Bedrock invoke succeeded",
			"stop_reason", out.StopReason,
			"input_tokens", aws.ToInt32(out.Usage.InputTokens),
			"output_tokens", aws.ToInt32(out.Usage.OutputTokens),
		)
	}

	switch out.StopReason {
	case types.StopReasonToolUse, types.StopReasonEndTurn, types.StopReasonStopSequence:
		return outputFromToolUse(out, req.Name)

	case types.StopReasonMaxTokens:
		slog.Warn("LLM_CLIENT: Model hit MaxTokens limit", "max_tokens", c.opts.MaxTokens)
		return nil, fmt.Errorf("model hit MaxTokens limit of %d", c.opts.MaxTokens)

	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		slog.Warn("LLM_CLIENT: Model response blocked by Bedrock safety filters")
		return nil, fmt.Errorf("model response blocked by Bedrock safety filters")

	default:
		return outputFromToolUse(out, req.Name)
	}
}

// buildToolSpec wraps the requested schema in a tool specification.
func buildToolSpec(req llm.Request) (types.ToolSpecification, error) {
	schemaMap, err := llm.SchemaMap(req.Schema)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to build tool schema for %s: %w", req.Name, err)
	}

	description := req.Description
	if description == "" {
		description = "Record the structured result."
	}

	return types.ToolSpecification{
		Name:        aws.String(req.Name),
		Description: aws.String(description),
		InputSchema: &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(schemaMap),
		},
	}, nil
}

// outputFromToolUse returns the input of the named tool call, falling back to a JSON object in text.
func outputFromToolUse(out *bedrockruntime.ConverseOutput, name string) (json.RawMessage, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return nil, ErrNoToolUse
	}

	var text string
	for _, cb := range msg.Value.Content {
		switch b := cb.(type) {
		case *types.ContentBlockMemberToolUse:
			if aws.ToString(b.Value.Name) != name {
				continue
			}
			var input map[string]any
			if err := b.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
				return nil, fmt.Errorf("failed to decode tool input: %w", err)
			}
			raw, err := json.Marshal(normalizeInput(input))
			if err != nil {
				return nil, fmt.Errorf("failed to encode tool input: %w", err)
			}
			return raw, nil

		case *types.ContentBlockMemberText:
			text += b.Value
		}
	}

	if raw, err := llm.ExtractJSON(text); err == nil {
		return raw, nil
	}
	return nil, ErrNoToolUse
}

// normalizeInput recursively converts smithy document numbers to float64 so the
// value round-trips through encoding/json as numbers rather than strings.
func normalizeInput(val any) any {
	switch v := val.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeInput(item)
		}
		return v

	case []any:
		for i := range v {
			v[i] = normalizeInput(v[i])
		}
		return v

	case interface{ Float64() (float64, error) }:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v

	default:
		return v
	}
}
