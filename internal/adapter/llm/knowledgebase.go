package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"go.opentelemetry.io/otel/trace"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/tracer"
)

// StrategyKnowledgeBase streams a retrieval-augmented answer grounded on a
// knowledge base.
const StrategyKnowledgeBase = "knowledge_base"

// knowledgeBasePromptSuffix follows a caller supplied system prompt. The
// service requires both placeholders in a custom template.
const knowledgeBasePromptSuffix = "\n\nSearch results:\n$search_results$\n\nQuestion: $query$"

// retrieveAndGenerateStreamAPI abstracts the Bedrock agent runtime method for testability.
type retrieveAndGenerateStreamAPI interface {
	RetrieveAndGenerateStream(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateStreamInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateStreamOutput, error)
}

type knowledgeBaseOpener func(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateStreamInput) (eventReader[agenttypes.RetrieveAndGenerateStreamResponseOutput], error)

// KnowledgeBaseGenerator implements domain.Generator over RetrieveAndGenerateStream.
type KnowledgeBaseGenerator struct {
	open            knowledgeBaseOpener
	knowledgeBaseID string
	arnPrefix       string
	buffer          int
	logger          *slog.Logger
}

// NewKnowledgeBaseGenerator creates the retrieval-augmented strategy.
// arnPrefix is prepended to model ids that are not already ARNs.
func NewKnowledgeBaseGenerator(api retrieveAndGenerateStreamAPI, knowledgeBaseID, arnPrefix string, buffer int, logger *slog.Logger) *KnowledgeBaseGenerator {
	return &KnowledgeBaseGenerator{
		open:            openKnowledgeBaseStream(api),
		knowledgeBaseID: knowledgeBaseID,
		arnPrefix:       arnPrefix,
		buffer:          buffer,
		logger:          logger,
	}
}

// Stream implements domain.Generator.
func (g *KnowledgeBaseGenerator) Stream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamDelta, error) {
	modelARN := g.modelARN(req.ModelID)
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.strategy", StrategyKnowledgeBase),
			tracer.StringAttr("llm.model", modelARN),
			tracer.StringAttr("llm.knowledge_base", g.knowledgeBaseID),
		),
	)

	reader, err := g.open(ctx, g.toStreamInput(req, modelARN))
	if err != nil {
		err = domain.WrapOp("knowledge_base", mapBedrockError(err))
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	logger := g.logger.With("strategy", StrategyKnowledgeBase, "model", req.ModelID, "knowledge_base", g.knowledgeBaseID)
	classify := func(evt agenttypes.RetrieveAndGenerateStreamResponseOutput) classified {
		c := classifyKnowledgeBaseEvent(evt)
		switch e := evt.(type) {
		case *agenttypes.RetrieveAndGenerateStreamResponseOutputMemberCitation:
			logger.Debug("citation received")
		case *agenttypes.RetrieveAndGenerateStreamResponseOutputMemberGuardrail:
			logger.Warn("guardrail intervened", "action", string(e.Value.Action))
		}
		return c
	}
	return pump(ctx, reader, g.buffer, classify, logger, endSpan(span, logger)), nil
}

// Name implements domain.Generator.
func (g *KnowledgeBaseGenerator) Name() string { return StrategyKnowledgeBase }

var _ domain.Generator = (*KnowledgeBaseGenerator)(nil)

// inferenceProfileGroups are the geography prefixes of cross-region
// inference profile ids such as "us.anthropic.claude-3-haiku-20240307-v1:0".
var inferenceProfileGroups = map[string]bool{
	"us": true, "us-gov": true, "eu": true, "apac": true,
	"ca": true, "jp": true, "au": true, "global": true,
}

func isInferenceProfileID(modelID string) bool {
	group, _, ok := strings.Cut(modelID, ".")
	return ok && inferenceProfileGroups[group]
}

// modelARN builds the ModelArn for RetrieveAndGenerate. Inference profile
// ids are never valid under foundation-model/, and their ARN needs the
// account id, so they are passed through bare unless an inference-profile
// prefix is configured.
func (g *KnowledgeBaseGenerator) modelARN(modelID string) string {
	if strings.HasPrefix(modelID, "arn:") {
		return modelID
	}
	if isInferenceProfileID(modelID) && !strings.Contains(g.arnPrefix, ":inference-profile/") {
		return modelID
	}
	return g.arnPrefix + modelID
}

func (g *KnowledgeBaseGenerator) toStreamInput(req domain.GenerationRequest, modelARN string) *bedrockagentruntime.RetrieveAndGenerateStreamInput {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = domain.DefaultMaxTokens
	}

	gen := &agenttypes.GenerationConfiguration{
		InferenceConfig: &agenttypes.InferenceConfig{
			TextInferenceConfig: &agenttypes.TextInferenceConfig{
				MaxTokens:   aws.Int32(int32(maxTokens)),
				Temperature: aws.Float32(float32(req.Temperature)),
			},
		},
	}
	if req.System != "" {
		gen.PromptTemplate = &agenttypes.PromptTemplate{
			TextPromptTemplate: aws.String(req.System + knowledgeBasePromptSuffix),
		}
	}

	return &bedrockagentruntime.RetrieveAndGenerateStreamInput{
		Input: &agenttypes.RetrieveAndGenerateInput{Text: aws.String(req.Prompt)},
		RetrieveAndGenerateConfiguration: &agenttypes.RetrieveAndGenerateConfiguration{
			Type: agenttypes.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &agenttypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId:         aws.String(g.knowledgeBaseID),
				ModelArn:                aws.String(modelARN),
				GenerationConfiguration: gen,
			},
		},
	}
}

func openKnowledgeBaseStream(api retrieveAndGenerateStreamAPI) knowledgeBaseOpener {
	return func(ctx context.Context, in *bedrockagentruntime.RetrieveAndGenerateStreamInput) (eventReader[agenttypes.RetrieveAndGenerateStreamResponseOutput], error) {
		out, err := api.RetrieveAndGenerateStream(ctx, in)
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

func classifyKnowledgeBaseEvent(evt agenttypes.RetrieveAndGenerateStreamResponseOutput) classified {
	switch e := evt.(type) {
	case *agenttypes.RetrieveAndGenerateStreamResponseOutputMemberOutput:
		return classified{kind: eventText, text: aws.ToString(e.Value.Text), label: "output"}
	case *agenttypes.RetrieveAndGenerateStreamResponseOutputMemberCitation:
		return classified{kind: eventIgnored, label: "citation"}
	case *agenttypes.RetrieveAndGenerateStreamResponseOutputMemberGuardrail:
		return classified{kind: eventIgnored, label: "guardrail"}
	case *agenttypes.UnknownUnionMember:
		return classified{kind: eventUnrecognized, label: e.Tag}
	default:
		return classified{kind: eventUnrecognized}
	}
}
