package usecase

import (
	"fmt"
	"strings"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

const answerSystemPrompt = `You answer questions strictly from the numbered context passages.
Return ONLY a JSON object with exactly these keys:
  "answer" (string): concise grounded answer, empty when abstaining,
  "answer_kind" (string): one of "direct", "clarification", "abstain",
  "answer_type" (string): one of "fact", "list", "numeric", "inference", empty unless answer_kind is "direct",
  "abstained" (boolean),
  "confidence" (string): one of "High", "Medium", "Low",
  "missing_information" (array of strings): what the context lacks, empty when nothing is missing,
  "reasoning_notes" (string),
  "clarifying_question" (string): empty unless answer_kind is "clarification",
  "citations" (array of integers): ordinals of the passages the answer uses.
Never invent numbers, names or dates that are not in the passages.
If the passages do not contain the answer, set answer_kind to "abstain" and abstained to true.
No markdown, no extra keys, no surrounding text.`

const schemaReminder = `Your previous reply did not match the required schema. Respond again in the exact JSON schema: keys answer, answer_kind, answer_type, abstained, confidence, missing_information, reasoning_notes, clarifying_question, citations. Nothing else.`

func buildAnswerPrompt(question string, passages []domain.RetrievedPassage, history []domain.Turn, allowClarification bool) string {
	var b strings.Builder
	if snippet := conversationSnippet(history, 3); snippet != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(snippet)
		b.WriteString("\n\n")
	}
	b.WriteString("Context passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[C%d] %s\n\n", i+1, p.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	if allowClarification {
		b.WriteString("\nIf the question is ambiguous between topics present in the passages, you may set answer_kind to \"clarification\" and ask one short clarifying question naming the candidate topics.")
	} else {
		b.WriteString("\nDo not ask clarifying questions; answer directly or abstain.")
	}
	return b.String()
}

const rephraseSystemPrompt = `You rewrite follow-up questions into self-contained questions using the conversation. Resolve pronouns and topic references. If the question is already self-contained, return it unchanged. Return ONLY the rewritten question, no quotes, no commentary.`

func buildRephrasePrompt(question string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	b.WriteString(conversationSnippet(history, 5))
	fmt.Fprintf(&b, "\n\nFollow-up question: %s", question)
	return b.String()
}

const clarifySystemPrompt = `The retrieved context was too weak to answer. Produce a short clarifying question for the user, plus the topic anchor the conversation is circling. Return ONLY a JSON object with keys "clarification_question" (string) and "focus_topic" (string, a few words, may be empty). No extra keys.`

func buildClarifyPrompt(question string, history []domain.Turn, topics []string) string {
	var b strings.Builder
	if snippet := conversationSnippet(history, 3); snippet != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(snippet)
		b.WriteString("\n\n")
	}
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Candidate topics in the corpus: %s\n\n", strings.Join(topics, "; "))
	}
	fmt.Fprintf(&b, "User question: %s", question)
	return b.String()
}

// conversationSnippet renders the last n exchanges (up to 2n turns) as
// User:/Assistant: lines.
func conversationSnippet(history []domain.Turn, turns int) string {
	if len(history) == 0 {
		return ""
	}
	start := len(history) - turns*2
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, t := range history[start:] {
		label := "User"
		if t.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, t.Text))
	}
	return strings.Join(lines, "\n")
}
