package usecase

import "testing"

func TestCompletenessHowMuchNeedsNumber(t *testing.T) {
	q := "How much do I need for Gold?"
	if got := completenessScore(q, "Gold requires $20,000 in balances."); got != 1.0 {
		t.Fatalf("numeric answer score = %f, want 1", got)
	}
	if got := completenessScore(q, "Gold is the middle tier."); got != 0.0 {
		t.Fatalf("non-numeric answer score = %f, want 0", got)
	}
}

func TestCompletenessWhenNeedsDate(t *testing.T) {
	q := "When does the promotion end?"
	if got := completenessScore(q, "The promotion ends December 31, 2026."); got != 1.0 {
		t.Fatalf("dated answer score = %f, want 1", got)
	}
}

func TestCompletenessNoInterrogativeFallsBackToContent(t *testing.T) {
	if got := completenessScore("Tell me about Gold.", "Gold is a Preferred Rewards tier."); got != 1.0 {
		t.Fatalf("contentful answer score = %f, want 1", got)
	}
	if got := completenessScore("Tell me about Gold.", ""); got != 0.0 {
		t.Fatalf("empty answer score = %f, want 0", got)
	}
}

func TestCompletenessSpecificIntentSuppressesGenericWhat(t *testing.T) {
	// "What balance" is a how-much question; the bare "what" must not
	// dilute the ratio.
	q := "What balance is needed for Gold?"
	if got := completenessScore(q, "You need $20,000."); got != 1.0 {
		t.Fatalf("score = %f, want 1", got)
	}
}
