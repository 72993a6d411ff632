package usecase

import "strings"

// interrogative spine: the wh-intents a question can carry. Each maps to a
// predicate over the answer deciding whether that intent was addressed.
type interrogative struct {
	name      string
	triggers  []string
	addressed func(answer string) bool
}

var interrogatives = []interrogative{
	{
		name:     "how-much",
		triggers: []string{"how much", "how many", "what amount", "what balance", "what rate", "what fee"},
		addressed: func(answer string) bool {
			return len(extractNumbers(answer)) > 0
		},
	},
	{
		name:     "when",
		triggers: []string{"when", "what date", "until when", "by when"},
		addressed: func(answer string) bool {
			for _, e := range extractEntities(answer) {
				if e.typ == "DATE" {
					return true
				}
			}
			return len(extractNumbers(answer)) > 0
		},
	},
	{
		name:     "who",
		triggers: []string{"who", "whose"},
		addressed: func(answer string) bool {
			for _, e := range extractEntities(answer) {
				if e.typ == "ORG" {
					return true
				}
			}
			return hasContent(answer)
		},
	},
	{
		name:      "which",
		triggers:  []string{"which", "what kind", "what type"},
		addressed: hasContent,
	},
	{
		name:      "what",
		triggers:  []string{"what", "how do", "how does", "how can", "why"},
		addressed: hasContent,
	},
}

func hasContent(answer string) bool {
	return len(contentTokens(tokenizeLower(answer))) > 0
}

// completenessScore extracts the question's interrogative spine and reports
// the fraction of detected intents the answer addresses. A question with no
// recognizable interrogative is scored on content presence alone.
func completenessScore(question, answer string) float64 {
	q := strings.ToLower(question)
	matched := 0
	addressed := 0
	for _, intent := range interrogatives {
		hit := false
		for _, trigger := range intent.triggers {
			if strings.Contains(q, trigger) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		// "what balance" already matched how-much; the generic intents only
		// count when nothing more specific did.
		if (intent.name == "what" || intent.name == "which") && matched > 0 {
			continue
		}
		matched++
		if intent.addressed(answer) {
			addressed++
		}
	}
	if matched == 0 {
		if hasContent(answer) {
			return 1.0
		}
		return 0.0
	}
	return float64(addressed) / float64(matched)
}
