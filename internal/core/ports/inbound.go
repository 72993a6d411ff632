package ports

import (
	"context"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// AskResult is the terminal output of one routed request.
type AskResult struct {
	SessionID string                    `json:"session_id"`
	Artifact  domain.AnswerArtifact     `json:"artifact"`
	Sources   []domain.RetrievedPassage `json:"sources"`
	Metrics   RouterMetrics             `json:"metrics"`
}

// RouterMetrics is the per-request diagnostic record the facade exposes.
type RouterMetrics struct {
	ProcessedQuestion string                      `json:"processed_question"`
	Rephrased         bool                        `json:"rephrased"`
	Summary           string                      `json:"summary"`
	Decision          string                      `json:"decision"`
	DecisionReason    string                      `json:"decision_reason"`
	Similarity        float64                     `json:"similarity"`
	Threshold         float64                     `json:"threshold"`
	ClarifyCount      int                         `json:"clarify_count"`
	Retrieval         domain.RetrievalDiagnostics `json:"retrieval"`
}

// QueryService is the inbound contract of the facade (C6).
type QueryService interface {
	Ask(ctx context.Context, sessionID, utterance string, seedHistory []domain.Turn) (*AskResult, error)
	LastMetrics(ctx context.Context, sessionID string) (*RouterMetrics, error)
	// DropMetrics releases per-session diagnostics once a session ends.
	DropMetrics(sessionID string)
}

// Retriever is the inbound contract of the hybrid retriever (C2).
type Retriever interface {
	Retrieve(ctx context.Context, question, hint string, filter *domain.MetadataFilter) (*domain.RetrievalResult, error)
}

// Generator is the inbound contract of the answer generator (C3).
type Generator interface {
	Generate(ctx context.Context, question string, passages []domain.RetrievedPassage, history []domain.Turn, allowClarification bool) (*domain.AnswerArtifact, error)
}
