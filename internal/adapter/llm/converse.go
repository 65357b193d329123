package llm

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel/trace"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/tracer"
)

// StrategyConverse streams directly from a foundation model.
const StrategyConverse = "converse"

// converseStreamAPI abstracts the Bedrock runtime method for testability.
type converseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

type converseOpener func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventReader[types.ConverseStreamOutput], error)

// ConverseGenerator implements domain.Generator over the Converse streaming API.
type ConverseGenerator struct {
	open   converseOpener
	buffer int
	logger *slog.Logger
}

// NewConverseGenerator creates the direct model strategy.
func NewConverseGenerator(api converseStreamAPI, buffer int, logger *slog.Logger) *ConverseGenerator {
	return &ConverseGenerator{
		open:   openConverseStream(api),
		buffer: buffer,
		logger: logger,
	}
}

// Stream implements domain.Generator.
func (g *ConverseGenerator) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.strategy", StrategyConverse),
			tracer.StringAttr("llm.model", req.ModelID),
			tracer.FloatAttr("llm.temperature", req.Temperature),
			tracer.IntAttr("llm.max_tokens", req.MaxTokens),
		),
	)

	reader, err := g.open(ctx, toConverseStreamInput(req))
	if err != nil {
		err = domain.WrapOp("converse", mapBedrockError(err))
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	logger := g.logger.With("strategy", StrategyConverse, "model", req.ModelID)
	return pump(ctx, reader, g.buffer, classifyConverseEvent, logger, endSpan(span, logger)), nil
}

// Name implements domain.Generator.
func (g *ConverseGenerator) Name() string { return StrategyConverse }

var _ domain.Generator = (*ConverseGenerator)(nil)

func openConverseStream(api converseStreamAPI) converseOpener {
	return func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (eventReader[types.ConverseStreamOutput], error) {
		out, err := api.ConverseStream(ctx, in)
		if err != nil {
			return nil, err
		}
		stream := out.GetStream()
		if stream == nil {
			return nil, domain.ErrStreamNotReady
		}
		return stream, nil
	}
}

func toConverseStreamInput(req domain.GenerationRequest) *bedrockruntime.ConverseStreamInput {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = domain.DefaultMaxTokens
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.ModelID),
		Messages: []types.Message{{
			Role: types.ConversationRoleUser,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: req.Prompt},
			},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	return input
}

func classifyConverseEvent(evt types.ConverseStreamOutput) classified {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return classified{kind: eventText, text: d.Value, label: "contentBlockDelta"}
		}
		return classified{kind: eventIgnored, label: "contentBlockDelta(non-text)"}

	case *types.ConverseStreamOutputMemberMetadata:
		c := classified{kind: eventUsage, label: "metadata"}
		if u := e.Value.Usage; u != nil {
			in, out := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
			c.usage = &domain.Usage{
				PromptTokens:     in,
				CompletionTokens: out,
				TotalTokens:      in + out,
			}
			if u.TotalTokens != nil {
				c.usage.TotalTokens = int(*u.TotalTokens)
			}
		}
		return c

	case *types.ConverseStreamOutputMemberMessageStart:
		return classified{kind: eventIgnored, label: "messageStart"}
	case *types.ConverseStreamOutputMemberContentBlockStart:
		return classified{kind: eventIgnored, label: "contentBlockStart"}
	case *types.ConverseStreamOutputMemberContentBlockStop:
		return classified{kind: eventIgnored, label: "contentBlockStop"}
	case *types.ConverseStreamOutputMemberMessageStop:
		return classified{kind: eventIgnored, label: "messageStop:" + string(e.Value.StopReason)}

	case *types.UnknownUnionMember:
		return classified{kind: eventUnrecognized, label: e.Tag}
	default:
		return classified{kind: eventUnrecognized}
	}
}

// endSpan closes the per-stream span once the pump reports its summary.
func endSpan(span trace.Span, logger *slog.Logger) func(streamSummary) {
	return func(s streamSummary) {
		span.SetAttributes(
			tracer.IntAttr("relay.fragments", s.fragments),
			tracer.StringAttr("relay.outcome", string(s.outcome)),
		)
		if s.usage != nil {
			span.SetAttributes(
				tracer.IntAttr("llm.usage.prompt_tokens", s.usage.PromptTokens),
				tracer.IntAttr("llm.usage.completion_tokens", s.usage.CompletionTokens),
			)
		}
		switch s.outcome {
		case domain.OutcomeFailed:
			tracer.RecordError(span, s.err)
			logger.Warn("upstream stream failed", "fragments", s.fragments, "error", s.err)
		case domain.OutcomeCancelled:
			logger.Info("upstream stream cancelled", "fragments", s.fragments)
		default:
			tracer.SetOK(span)
			logger.Debug("upstream stream completed", "fragments", s.fragments)
		}
		span.End()
	}
}
