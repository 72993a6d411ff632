package domain

import (
	"encoding/json"
	"fmt"
)

type AnswerKind string

const (
	AnswerDirect        AnswerKind = "direct"
	AnswerClarification AnswerKind = "clarification"
	AnswerAbstain       AnswerKind = "abstain"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Metric is a score in [0,1] that may be "n/a". Marshals to the literal
// string "n/a" when not applicable, to a number otherwise.
type Metric struct {
	Valid bool
	Value float64
}

func MetricOf(v float64) Metric {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return Metric{Valid: true, Value: v}
}

func MetricNA() Metric { return Metric{} }

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte(`"n/a"`), nil
	}
	return json.Marshal(m.Value)
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "n/a" || s == "" {
			*m = Metric{}
			return nil
		}
		return fmt.Errorf("metric: unexpected string %q", s)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("metric: %w", err)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("metric: value %f outside [0,1]", v)
	}
	*m = Metric{Valid: true, Value: v}
	return nil
}

// Span is a half-open [start,end) character range into the answer text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SupportedTerm is one answer term grounded in a cited passage.
type SupportedTerm struct {
	Term  string  `json:"term"`
	Spans []Span  `json:"spans"`
	IDF   float64 `json:"idf"`
}

type EntitySupport struct {
	Text      string `json:"text"`
	Type      string `json:"type"`
	Spans     []Span `json:"spans"`
	Supported bool   `json:"supported"`
}

// SentencePrecision is the per-sentence fraction of content tokens that are
// supported by the cited passages.
type SentencePrecision struct {
	Sentence  string  `json:"sentence"`
	Precision float64 `json:"precision"`
}

// Grounding holds the locally computed evidence metrics for one artifact.
type Grounding struct {
	SupportedTerms     []SupportedTerm     `json:"supported_terms"`
	SupportedRatio     float64             `json:"supported_ratio"`
	Entities           []EntitySupport     `json:"entities"`
	EntityCoverage     float64             `json:"entity_coverage"`
	EntityCoverageBy   map[string]float64  `json:"entity_coverage_by_type"`
	UnsupportedNumbers []string            `json:"unsupported_numbers"`
	QAAlignment        float64             `json:"qa_alignment"`
	PerSentence        []SentencePrecision `json:"per_sentence"`
}

// AnswerArtifact is the structured result of one routed request.
type AnswerArtifact struct {
	Answer             string     `json:"answer"`
	Kind               AnswerKind `json:"kind"`
	AnswerType         string     `json:"answer_type,omitempty"` // fact | list | numeric | inference on direct answers
	Abstained          bool       `json:"abstained"`
	Confidence         Confidence `json:"confidence"`
	Faithfulness       Metric     `json:"faithfulness"`
	Completeness       Metric     `json:"completeness"`
	MissingInformation []string   `json:"missing_information"`
	ReasoningNotes     string     `json:"reasoning_notes"`
	Clarification      string     `json:"clarification,omitempty"`
	FocusHint          string     `json:"focus_hint,omitempty"`
	Grounding          Grounding  `json:"grounding"`
	CitedPassages      []string   `json:"cited_passages"`
	GeneratedBy        string     `json:"generated_by"`
}

// Validate enforces the artifact invariants: clarifications and abstentions
// carry n/a metrics, direct answers carry numeric ones, and every grounding
// span indexes into the answer text.
func (a AnswerArtifact) Validate() error {
	switch a.Kind {
	case AnswerDirect:
		if !a.Faithfulness.Valid || !a.Completeness.Valid {
			return fmt.Errorf("direct artifact must carry numeric faithfulness and completeness")
		}
	case AnswerClarification, AnswerAbstain:
		if a.Faithfulness.Valid || a.Completeness.Valid {
			return fmt.Errorf("%s artifact must carry n/a metrics", a.Kind)
		}
	default:
		return fmt.Errorf("unknown answer kind %q", a.Kind)
	}
	n := len(a.Answer)
	check := func(spans []Span) error {
		for _, s := range spans {
			if s.Start < 0 || s.End > n || s.Start > s.End {
				return fmt.Errorf("span [%d,%d) outside answer of length %d", s.Start, s.End, n)
			}
		}
		return nil
	}
	for _, t := range a.Grounding.SupportedTerms {
		if err := check(t.Spans); err != nil {
			return err
		}
	}
	for _, e := range a.Grounding.Entities {
		if err := check(e.Spans); err != nil {
			return err
		}
	}
	return nil
}

// AbstainArtifact builds the canonical abstention result.
func AbstainArtifact(reason string, missing []string) AnswerArtifact {
	if missing == nil {
		missing = []string{}
	}
	return AnswerArtifact{
		Answer:             "This question cannot be answered with the available information.",
		Kind:               AnswerAbstain,
		Abstained:          true,
		Confidence:         ConfidenceLow,
		Faithfulness:       MetricNA(),
		Completeness:       MetricNA(),
		MissingInformation: missing,
		ReasoningNotes:     reason,
		CitedPassages:      []string{},
	}
}
