package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
)

// RouterPolicy is the snapshot of routing tunables one request runs under.
// ReclarifyThreshold is always strictly below SimilarityThreshold; config
// validation rejects anything else.
type RouterPolicy struct {
	Strategy            string // intelligent | simple
	SimilarityThreshold float64
	ReclarifyThreshold  float64
	MaxClarify          int
	WindowK             int
}

type routerState int

const (
	stateIngest routerState = iota
	stateRetrieve
	stateRoute
	stateAnswer
	stateClarify
	stateEnd
)

func (s routerState) String() string {
	switch s {
	case stateIngest:
		return "INGEST"
	case stateRetrieve:
		return "RETRIEVE"
	case stateRoute:
		return "ROUTE"
	case stateAnswer:
		return "ANSWER"
	case stateClarify:
		return "CLARIFY"
	default:
		return "END"
	}
}

// RouteOutcome is the terminal result of one pass through the router graph.
type RouteOutcome struct {
	Artifact domain.AnswerArtifact
	Passages []domain.RetrievedPassage
	Metrics  ports.RouterMetrics
}

// Router walks the state graph INGEST -> RETRIEVE -> ROUTE -> (ANSWER|CLARIFY)
// -> END for one utterance (C4). The routing decision is policy-driven;
// abstention is a value, never an exception. Exactly one retrieval and at
// most one generator call happen per request.
type Router struct {
	retriever ports.Retriever
	generator ports.Generator
	chat      ports.ChatModel
	policy    func() RouterPolicy
	now       func() time.Time
	log       *slog.Logger
}

func NewRouter(retriever ports.Retriever, generator ports.Generator, chat ports.ChatModel, policy func() RouterPolicy, log *slog.Logger) *Router {
	return &Router{
		retriever: retriever,
		generator: generator,
		chat:      chat,
		policy:    policy,
		now:       time.Now,
		log:       log,
	}
}

// turnState is the turn-local scratch that flows between nodes.
type turnState struct {
	utterance string
	processed string
	hint      string
	rephrased bool
	merged    bool
	summary   string
	decision  string
	reason    string
	retrieval *domain.RetrievalResult
	artifact  *domain.AnswerArtifact
}

func (r *Router) Run(ctx context.Context, sess *domain.Session, utterance string) (*RouteOutcome, error) {
	policy := r.policy()
	turn := &turnState{utterance: strings.TrimSpace(utterance)}

	sess.AppendTurn(domain.Turn{Role: domain.RoleUser, Text: turn.utterance, Timestamp: r.now()}, policy.WindowK)

	state := stateIngest
	for state != stateEnd {
		var err error
		switch state {
		case stateIngest:
			state = r.ingest(ctx, sess, turn, policy)
		case stateRetrieve:
			state, err = r.retrieve(ctx, sess, turn)
			if err != nil {
				// Retrieval backend failure is the one error the router
				// propagates instead of absorbing into an abstention.
				return nil, err
			}
		case stateRoute:
			state = r.route(sess, turn, policy)
		case stateAnswer:
			state = r.answer(ctx, sess, turn, policy)
		case stateClarify:
			state = r.clarify(ctx, sess, turn, policy)
		}
	}

	signal := 0.0
	var diag domain.RetrievalDiagnostics
	var passages []domain.RetrievedPassage
	if turn.retrieval != nil {
		signal = turn.retrieval.RoutingSignal()
		diag = turn.retrieval.Diagnostics
		passages = turn.retrieval.Passages
	}

	return &RouteOutcome{
		Artifact: *turn.artifact,
		Passages: passages,
		Metrics: ports.RouterMetrics{
			ProcessedQuestion: turn.processed,
			Rephrased:         turn.rephrased,
			Summary:           turn.summary,
			Decision:          turn.decision,
			DecisionReason:    turn.reason,
			Similarity:        signal,
			Threshold:         policy.SimilarityThreshold,
			ClarifyCount:      sess.ClarifyCount,
			Retrieval:         diag,
		},
	}, nil
}

// ingest resolves the utterance against conversation state: merge a
// clarification response with its pending question, or rephrase
// pronoun-laden follow-ups through the LLM. LLM unavailability skips
// rephrasing rather than failing.
func (r *Router) ingest(ctx context.Context, sess *domain.Session, turn *turnState, policy RouterPolicy) routerState {
	turn.processed = turn.utterance

	if policy.Strategy == "simple" {
		turn.summary = "simple strategy, utterance passed through"
		return stateRetrieve
	}

	if sess.PendingAsk != "" && lastTurnWasClarification(sess) {
		turn.processed = sess.PendingAsk + " " + turn.utterance
		turn.hint = sess.FocusHint
		turn.merged = true
		turn.summary = "merged clarification response with pending question"
		return stateRetrieve
	}

	if needsRephrase(turn.utterance) && len(sess.History) > 1 {
		rephrased, err := r.rephrase(ctx, turn.utterance, sess.History)
		if err != nil {
			r.log.Warn("rephrase_skipped", "error", err)
		} else if rephrased != "" && rephrased != turn.utterance {
			turn.processed = rephrased
			turn.rephrased = true
			turn.summary = "rephrased against conversation history"
			return stateRetrieve
		}
	}
	turn.summary = "utterance used as-is"
	return stateRetrieve
}

func (r *Router) retrieve(ctx context.Context, sess *domain.Session, turn *turnState) (routerState, error) {
	result, err := r.retriever.Retrieve(ctx, turn.processed, turn.hint, nil)
	if err != nil {
		return stateEnd, err
	}
	turn.retrieval = result

	ids := make([]string, len(result.Passages))
	for i, p := range result.Passages {
		ids[i] = p.ChunkID
	}
	sess.LastRetrieval = &domain.RetrievalSnapshot{
		Question:    turn.processed,
		PassageIDs:  ids,
		Diagnostics: result.Diagnostics,
		At:          r.now(),
	}

	r.log.Info("retrieved",
		"chunks", result.Diagnostics.ChunkCount,
		"avg_score", result.Diagnostics.AvgScore,
		"min_score", result.Diagnostics.MinScore,
		"max_score", result.Diagnostics.MaxScore,
		"context_length", result.Diagnostics.ContextLength,
	)
	return stateRoute, nil
}

// route is the policy decision: similarity against the threshold pair, the
// clarification budget as the hard bound.
func (r *Router) route(sess *domain.Session, turn *turnState, policy RouterPolicy) routerState {
	if policy.Strategy == "simple" {
		turn.decision = "answer"
		turn.reason = "simple strategy"
		return stateAnswer
	}

	signal := turn.retrieval.RoutingSignal()
	budgetLeft := sess.ClarifyCount < policy.MaxClarify

	switch {
	case len(turn.retrieval.Passages) == 0:
		if !budgetLeft {
			turn.decision = "answer"
			turn.reason = "no_evidence, clarification budget exhausted"
			return stateAnswer
		}
		turn.decision = "clarify"
		turn.reason = "no_evidence"
		return stateClarify
	case signal >= policy.SimilarityThreshold:
		turn.decision = "answer"
		turn.reason = fmt.Sprintf("similarity %.3f >= threshold %.3f", signal, policy.SimilarityThreshold)
		return stateAnswer
	case signal < policy.ReclarifyThreshold && budgetLeft:
		turn.decision = "clarify"
		turn.reason = "low_confidence"
		return stateClarify
	default:
		turn.decision = "answer"
		turn.reason = fmt.Sprintf("similarity %.3f in gray zone, generator abstention is the safety net", signal)
		return stateAnswer
	}
}

func (r *Router) answer(ctx context.Context, sess *domain.Session, turn *turnState, policy RouterPolicy) routerState {
	allowClarification := policy.Strategy == "intelligent" && sess.ClarifyCount < policy.MaxClarify

	artifact, err := r.generator.Generate(ctx, turn.processed, turn.retrieval.Passages, sess.History, allowClarification)
	if err != nil {
		// Backend failures at this node degrade to an explained abstention.
		r.log.Error("generation_failed", "error", err)
		failed := domain.AbstainArtifact(fmt.Sprintf("generation failed: %s", domain.Kind(err)), nil)
		failed.GeneratedBy = "answer_node"
		artifact = &failed
	}

	if artifact.Kind == domain.AnswerClarification && allowClarification {
		return r.acceptClarification(sess, turn, artifact, policy)
	}
	if artifact.Kind == domain.AnswerClarification {
		// Budget exhausted after the generator asked anyway: abstain.
		downgraded := domain.AbstainArtifact("clarification budget exhausted", artifact.MissingInformation)
		downgraded.GeneratedBy = "answer_node"
		artifact = &downgraded
	}

	turn.artifact = artifact
	turn.artifact.GeneratedBy = "answer_node"
	sess.ClarifyCount = 0
	sess.PendingAsk = ""
	sess.FocusHint = ""
	r.appendAssistantTurn(sess, turn, policy)
	return stateEnd
}

// clarify synthesizes the follow-up question, preferring the LLM and falling
// back to retrieval diagnostics when it is unavailable.
func (r *Router) clarify(ctx context.Context, sess *domain.Session, turn *turnState, policy RouterPolicy) routerState {
	topics := candidateTopics(turn.retrieval)

	question, focus := r.synthesizeClarification(ctx, turn.processed, sess.History, topics)

	artifact := domain.AnswerArtifact{
		Answer:             question,
		Kind:               domain.AnswerClarification,
		Abstained:          false,
		Confidence:         domain.ConfidenceLow,
		Faithfulness:       domain.MetricNA(),
		Completeness:       domain.MetricNA(),
		MissingInformation: []string{"specific topic or program"},
		ReasoningNotes:     fmt.Sprintf("clarification requested: %s", turn.reason),
		Clarification:      question,
		FocusHint:          focus,
		CitedPassages:      []string{},
		GeneratedBy:        "clarify_node",
	}
	return r.acceptClarification(sess, turn, &artifact, policy)
}

// acceptClarification books a clarification against the budget and pins the
// pending question for the next turn.
func (r *Router) acceptClarification(sess *domain.Session, turn *turnState, artifact *domain.AnswerArtifact, policy RouterPolicy) routerState {
	sess.ClarifyCount++
	if !turn.merged {
		sess.PendingAsk = turn.processed
	}
	if artifact.FocusHint != "" {
		sess.FocusHint = artifact.FocusHint
	}
	turn.artifact = artifact
	r.appendAssistantTurn(sess, turn, policy)
	return stateEnd
}

func (r *Router) appendAssistantTurn(sess *domain.Session, turn *turnState, policy RouterPolicy) {
	meta := &domain.TurnMeta{
		Kind:          turn.artifact.Kind,
		Sources:       turn.artifact.CitedPassages,
		Clarification: turn.artifact.Kind == domain.AnswerClarification,
	}
	sess.AppendTurn(domain.Turn{
		Role:      domain.RoleAssistant,
		Text:      turn.artifact.Answer,
		Timestamp: r.now(),
		Meta:      meta,
	}, policy.WindowK)
}

// rephrase delegates to the LLM under a strict return-only-the-question
// contract; a multi-line or empty reply is rejected.
func (r *Router) rephrase(ctx context.Context, question string, history []domain.Turn) (string, error) {
	raw, err := r.chat.Chat(ctx, rephraseSystemPrompt, buildRephrasePrompt(question, history), ports.ChatOptions{MaxTokens: 200, Temperature: 0.1})
	if err != nil {
		return "", err
	}
	rephrased := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"`))
	if rephrased == "" || strings.Contains(rephrased, "\n") {
		return "", fmt.Errorf("rephrase reply violates single-line contract")
	}
	return rephrased, nil
}

func (r *Router) synthesizeClarification(ctx context.Context, question string, history []domain.Turn, topics []string) (string, string) {
	raw, err := r.chat.Chat(ctx, clarifySystemPrompt, buildClarifyPrompt(question, history, topics), ports.ChatOptions{MaxTokens: 200, Temperature: 0.1, JSONMode: true})
	if err == nil {
		var parsed struct {
			ClarificationQuestion string `json:"clarification_question"`
			FocusTopic            string `json:"focus_topic"`
		}
		if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); jsonErr == nil && strings.TrimSpace(parsed.ClarificationQuestion) != "" {
			return strings.TrimSpace(parsed.ClarificationQuestion), strings.TrimSpace(parsed.FocusTopic)
		}
	} else {
		r.log.Warn("clarification_synthesis_degraded", "error", err)
	}

	if len(topics) >= 2 {
		return fmt.Sprintf("Are you asking about %s or %s?", topics[0], topics[1]), ""
	}
	return "Could you clarify the specific program or topic you mean?", ""
}

// candidateTopics pulls distinct document titles from the retrieval set, in
// rank order, for diagnostic-driven clarifications.
func candidateTopics(result *domain.RetrievalResult) []string {
	if result == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var topics []string
	for _, p := range result.Passages {
		title := p.Document.Title
		if title == "" {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		topics = append(topics, title)
		if len(topics) == 3 {
			break
		}
	}
	return topics
}

func lastTurnWasClarification(sess *domain.Session) bool {
	last := sess.LastAssistantTurn()
	return last != nil && last.Meta != nil && last.Meta.Clarification
}

var coreferenceMarkers = []string{"it", "that", "this", "those", "them", "they", "he", "she", "one", "more", "both"}

// needsRephrase flags short or pronoun-anchored follow-ups. Self-contained
// questions pass through untouched.
func needsRephrase(utterance string) bool {
	tokens := tokenizeLower(utterance)
	if len(tokens) == 0 {
		return false
	}
	if len(tokens) <= 3 {
		return true
	}
	for _, t := range tokens {
		for _, marker := range coreferenceMarkers {
			if t == marker {
				return true
			}
		}
	}
	return false
}
