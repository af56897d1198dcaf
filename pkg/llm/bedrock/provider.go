package bedrock

import (
	"context"
	"fmt"
	"strings"

	"bioinsight-be/pkg/llm"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ConverseAPI is the subset of the bedrock runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider calls models through the Bedrock Converse API.
type BedrockProvider struct {
	api     ConverseAPI
	modelID string
}

var _ llm.LLMProvider = &BedrockProvider{}

func NewBedrockProvider(ctx context.Context, region, modelID string) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBedrockProviderWithClient(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

func NewBedrockProviderWithClient(api ConverseAPI, modelID string) *BedrockProvider {
	return &BedrockProvider{api: api, modelID: modelID}
}

func (p *BedrockProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	opts := llm.Apply(llm.Options{Model: p.modelID, Temperature: 0.2, MaxTokens: 4096}, options...)

	system, turns := llm.SplitSystem(history)
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(opts.Model),
		Messages: toMessages(turns),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(opts.MaxTokens)),
			Temperature: aws.Float32(float32(opts.Temperature)),
		},
	}
	if len(system) > 0 {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: strings.Join(system, "\n\n")},
		}
	}

	out, err := p.api.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("bedrock converse: unexpected output type %T", out.Output)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String(), nil
}

func (p *BedrockProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, options...)
}

// toMessages merges consecutive same-role turns; Converse rejects them.
func toMessages(turns []llm.Message) []types.Message {
	var out []types.Message
	for _, m := range turns {
		role := types.ConversationRoleUser
		if m.Role == llm.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		block := &types.ContentBlockMemberText{Value: m.Content}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			continue
		}
		out = append(out, types.Message{Role: role, Content: []types.ContentBlock{block}})
	}
	return out
}
