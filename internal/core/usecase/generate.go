package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
)

// AnswerGenerator turns a question plus retrieved passages into a grounded
// AnswerArtifact (C3). The model's structured reply is parsed strictly and
// cross-checked with locally computed grounding metrics; grounding-rule
// violations downgrade the artifact to an abstention instead of erroring.
type AnswerGenerator struct {
	chat ports.ChatModel
	log  *slog.Logger
}

func NewAnswerGenerator(chat ports.ChatModel, log *slog.Logger) *AnswerGenerator {
	return &AnswerGenerator{chat: chat, log: log}
}

// llmAnswer is the strict wire schema of the model reply.
type llmAnswer struct {
	Answer             string   `json:"answer"`
	AnswerKind         string   `json:"answer_kind"`
	AnswerType         string   `json:"answer_type"`
	Abstained          bool     `json:"abstained"`
	Confidence         string   `json:"confidence"`
	MissingInformation []string `json:"missing_information"`
	ReasoningNotes     string   `json:"reasoning_notes"`
	ClarifyingQuestion string   `json:"clarifying_question"`
	Citations          []int    `json:"citations"`
}

func (g *AnswerGenerator) Generate(
	ctx context.Context,
	question string,
	passages []domain.RetrievedPassage,
	history []domain.Turn,
	allowClarification bool,
) (*domain.AnswerArtifact, error) {
	if len(passages) == 0 {
		artifact := domain.AbstainArtifact("no passages retrieved", []string{"relevant passages for the question"})
		artifact.GeneratedBy = "generator"
		return &artifact, nil
	}

	userPrompt := buildAnswerPrompt(question, passages, history, allowClarification)

	raw, err := g.chat.Chat(ctx, answerSystemPrompt, userPrompt, ports.ChatOptions{JSONMode: true, Temperature: 0.1})
	if err != nil {
		return nil, domain.WrapError(domain.ErrGenerationBackend, "generate answer", err)
	}

	parsed, parseErr := parseStrictAnswer(raw, len(passages))
	if parseErr != nil {
		// One repair attempt with an explicit schema reminder, never more.
		g.log.Warn("structured_response_malformed", "error", parseErr)
		raw, err = g.chat.Chat(ctx, answerSystemPrompt+"\n\n"+schemaReminder, userPrompt, ports.ChatOptions{JSONMode: true, Temperature: 0})
		if err != nil {
			return nil, domain.WrapError(domain.ErrGenerationBackend, "generate answer retry", err)
		}
		parsed, parseErr = parseStrictAnswer(raw, len(passages))
		if parseErr != nil {
			return nil, domain.WrapError(domain.ErrMalformedResponse, "generate answer", parseErr)
		}
	}

	return g.buildArtifact(question, passages, parsed), nil
}

// parseStrictAnswer decodes the model reply against the exact schema. Any
// deviation fails; there is no heuristic repair here.
func parseStrictAnswer(raw string, passageCount int) (*llmAnswer, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.DisallowUnknownFields()
	var out llmAnswer
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing content after JSON object")
	}
	switch out.AnswerKind {
	case "direct", "clarification", "abstain":
	default:
		return nil, fmt.Errorf("answer_kind %q not one of direct|clarification|abstain", out.AnswerKind)
	}
	switch out.Confidence {
	case "High", "Medium", "Low":
	default:
		return nil, fmt.Errorf("confidence %q not one of High|Medium|Low", out.Confidence)
	}
	if out.AnswerKind == "direct" {
		switch out.AnswerType {
		case "fact", "list", "numeric", "inference":
		default:
			return nil, fmt.Errorf("answer_type %q not one of fact|list|numeric|inference", out.AnswerType)
		}
		if strings.TrimSpace(out.Answer) == "" {
			return nil, fmt.Errorf("direct answer with empty answer text")
		}
	}
	if out.AnswerKind == "clarification" && strings.TrimSpace(out.ClarifyingQuestion) == "" {
		return nil, fmt.Errorf("clarification without clarifying_question")
	}
	for _, ordinal := range out.Citations {
		if ordinal < 1 || ordinal > passageCount {
			return nil, fmt.Errorf("citation ordinal %d outside [1,%d]", ordinal, passageCount)
		}
	}
	if out.MissingInformation == nil {
		return nil, fmt.Errorf("missing_information must be an array")
	}
	return &out, nil
}

// buildArtifact applies the hard abstention rules, in order, on top of the
// model's declared kind.
func (g *AnswerGenerator) buildArtifact(question string, passages []domain.RetrievedPassage, parsed *llmAnswer) *domain.AnswerArtifact {
	citedIDs, citedTexts := resolveCitations(passages, parsed)

	retrievedTexts := make([]string, len(passages))
	for i, p := range passages {
		retrievedTexts[i] = p.Text
	}

	if parsed.AnswerKind == "clarification" {
		return &domain.AnswerArtifact{
			Answer:             parsed.ClarifyingQuestion,
			Kind:               domain.AnswerClarification,
			Abstained:          false,
			Confidence:         domain.Confidence(parsed.Confidence),
			Faithfulness:       domain.MetricNA(),
			Completeness:       domain.MetricNA(),
			MissingInformation: parsed.MissingInformation,
			ReasoningNotes:     parsed.ReasoningNotes,
			Clarification:      parsed.ClarifyingQuestion,
			CitedPassages:      []string{},
			GeneratedBy:        "generator",
		}
	}

	grounding := computeGrounding(question, parsed.Answer, citedTexts, retrievedTexts)

	abstainReason := ""
	switch {
	case parsed.AnswerKind == "abstain" || parsed.Abstained:
		abstainReason = parsed.ReasoningNotes
		if abstainReason == "" {
			abstainReason = "model abstained"
		}
	case len(grounding.UnsupportedNumbers) > 0:
		abstainReason = fmt.Sprintf("unsupported numbers in answer: %s", strings.Join(grounding.UnsupportedNumbers, ", "))
	case grounding.SupportedRatio < 0.5:
		abstainReason = fmt.Sprintf("supported-term ratio %.2f below 0.5", grounding.SupportedRatio)
	case grounding.EntityCoverage < 0.5:
		abstainReason = fmt.Sprintf("entity coverage %.2f below 0.5", grounding.EntityCoverage)
	}

	if abstainReason != "" {
		missing := parsed.MissingInformation
		if len(missing) == 0 {
			missing = []string{"evidence supporting the answer"}
		}
		artifact := domain.AbstainArtifact(abstainReason, missing)
		artifact.Grounding = grounding
		artifact.Clarification = parsed.ClarifyingQuestion
		artifact.GeneratedBy = "generator"
		return &artifact
	}

	return &domain.AnswerArtifact{
		Answer:             parsed.Answer,
		Kind:               domain.AnswerDirect,
		AnswerType:         parsed.AnswerType,
		Abstained:          false,
		Confidence:         domain.Confidence(parsed.Confidence),
		Faithfulness:       domain.MetricOf(grounding.SupportedRatio),
		Completeness:       domain.MetricOf(completenessScore(question, parsed.Answer)),
		MissingInformation: parsed.MissingInformation,
		ReasoningNotes:     parsed.ReasoningNotes,
		Grounding:          grounding,
		CitedPassages:      citedIDs,
		GeneratedBy:        "generator",
	}
}

// resolveCitations maps citation ordinals onto passage identifiers. A direct
// answer citing nothing is treated as citing every retrieved passage; the
// grounding metrics stay honest either way.
func resolveCitations(passages []domain.RetrievedPassage, parsed *llmAnswer) ([]string, []string) {
	ordinals := parsed.Citations
	if len(ordinals) == 0 && parsed.AnswerKind == "direct" {
		ordinals = make([]int, len(passages))
		for i := range passages {
			ordinals[i] = i + 1
		}
	}
	seen := make(map[int]struct{}, len(ordinals))
	ids := make([]string, 0, len(ordinals))
	texts := make([]string, 0, len(ordinals))
	for _, ordinal := range ordinals {
		if _, dup := seen[ordinal]; dup {
			continue
		}
		seen[ordinal] = struct{}{}
		p := passages[ordinal-1]
		ids = append(ids, p.ChunkID)
		texts = append(texts, p.Text)
	}
	return ids, texts
}
