//go:build bedrock

package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"legalmind/internal/domain"
	"legalmind/internal/infra/config"
)

const (
	defaultBedrockRegion    = "us-east-1"
	defaultBedrockMaxTokens = 4096
)

// converser is the slice of the Bedrock runtime client the provider uses.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider serves agent turns through the Bedrock Converse API.
type BedrockProvider struct {
	name     string
	defaults domain.ChatRequest
	client   converser
	logger   *slog.Logger
}

// NewBedrockProvider resolves credentials through the default AWS chain.
func NewBedrockProvider(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cmp.Or(cfg.Region, defaultBedrockRegion)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p := newBedrockProviderWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger)
	p.defaults.MaxTokens = cfg.MaxTokens
	return p, nil
}

func newBedrockProviderWithClient(name, model string, client converser, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{
		name:     name,
		defaults: domain.ChatRequest{Model: model},
		client:   client,
		logger:   logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.defaults.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = p.defaults.MaxTokens
	}
	return observeChat(ctx, p.logger, p.name, req, p.converse)
}

func (p *BedrockProvider) converse(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	out, err := p.client.Converse(ctx, toBedrockConverseInput(req))
	if err != nil {
		return nil, mapBedrockError(err)
	}
	if out.StopReason == types.StopReasonMaxTokens {
		p.logger.Warn("llm reply truncated at max_tokens", "provider", p.name, "model", req.Model, "max_tokens", req.MaxTokens)
	}
	return fromBedrockConverseOutput(out, req.Model), nil
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

// toBedrockConverseInput lifts system messages into the system field and
// folds consecutive same-role turns, which Converse rejects. Other agents'
// replies arrive as assistant turns, so folding is common in group chats.
func toBedrockConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	limit := req.MaxTokens
	if limit <= 0 {
		limit = defaultBedrockMaxTokens
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(limit))},
	}
	if req.Temperature > 0 {
		in.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	for _, m := range req.Messages {
		var role types.ConversationRole
		switch m.Role {
		case domain.ChatRoleSystem:
			in.System = append(in.System, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		case domain.ChatRoleAssistant:
			role = types.ConversationRoleAssistant
		case domain.ChatRoleUser:
			role = types.ConversationRoleUser
		default:
			continue
		}
		text := &types.ContentBlockMemberText{Value: m.Content}
		if n := len(in.Messages); n > 0 && in.Messages[n-1].Role == role {
			in.Messages[n-1].Content = append(in.Messages[n-1].Content, text)
			continue
		}
		in.Messages = append(in.Messages, types.Message{Role: role, Content: []types.ContentBlock{text}})
	}
	return in
}

func fromBedrockConverseOutput(out *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	resp := &domain.ChatResponse{Model: model, CreatedAt: time.Now()}
	if u := out.Usage; u != nil {
		in, gen := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
		resp.Usage = domain.Usage{PromptTokens: in, CompletionTokens: gen, TotalTokens: in + gen}
	}

	var text []string
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if t, ok := block.(*types.ContentBlockMemberText); ok {
				text = append(text, t.Value)
			}
		}
	}
	resp.Message = domain.ChatMessage{Role: domain.ChatRoleAssistant, Content: strings.Join(text, "\n")}
	return resp
}

// bedrockErrorCodes maps Bedrock API error codes to domain sentinels.
var bedrockErrorCodes = map[string]error{
	"ThrottlingException":         domain.ErrRateLimit,
	"TooManyRequestsException":    domain.ErrRateLimit,
	"AccessDeniedException":       domain.ErrAuthInvalid,
	"UnrecognizedClientException": domain.ErrAuthInvalid,
	"ModelNotReadyException":      domain.ErrUpstream,
	"ServiceUnavailableException": domain.ErrUpstream,
	"InternalServerException":     domain.ErrUpstream,
	"ModelTimeoutException":       domain.ErrUpstream,
}

func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return domain.WrapOp("bedrock", err)
	}
	code := apiErr.ErrorCode()
	if sentinel, ok := bedrockErrorCodes[code]; ok {
		return fmt.Errorf("%w: %s", sentinel, err)
	}
	if code == "ValidationException" && strings.Contains(err.Error(), "too long") {
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, err)
	}
	return fmt.Errorf("%w: bedrock %s: %s", domain.ErrProviderError, code, err)
}
