package ai

import (
	"regexp"
	"strings"

	"github.com/nhle/inboxpilot/internal/model"
)

// alwaysRelevantKeywords mark a message as relevant whenever they appear
// in the subject or body.
var alwaysRelevantKeywords = []string{
	"meeting", "schedule", "appointment", "deadline", "urgent", "important",
	"project", "task", "deliverable", "client", "customer", "interview",
	"conference", "proposal", "contract", "invoice", "payment", "account",
	"password", "security", "verification", "confirm", "approval", "approve",
	"leave", "vacation", "sick", "request", "application", "feedback",
	"review", "reminder", "follow up", "discussion", "question", "inquiry",
	"support", "issue", "problem", "collaboration", "partnership",
}

// spamIndicators are phrases that only appear in clear spam. Two or more
// filter a message.
var spamIndicators = []string{
	"click here to unsubscribe",
	"you have won",
	"congratulations you have been selected",
	"limited time offer expires",
	"act now or lose out",
	"make money fast",
	"work from home opportunity",
	"get rich quick",
	"no obligation",
	"call now",
	"order now",
	"buy now",
	"subscribe now",
	"click to claim",
	"final notice",
	"this is not spam",
}

// promotionalPatterns match boilerplate of bulk mail. Two or more filter a
// message that has no personal greeting.
var promotionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`unsubscribe.*here`),
	regexp.MustCompile(`click.*to.*stop.*receiving`),
	regexp.MustCompile(`you.*received.*this.*email.*because`),
	regexp.MustCompile(`promotional.*email`),
	regexp.MustCompile(`marketing.*email`),
}

var personalIndicators = []string{
	"dear", "hi ", "hello", "thank you", "regards", "sincerely",
}

// urgencyKeywords raise a relevant message to high priority.
var urgencyKeywords = []string{
	"urgent", "asap", "immediate", "critical", "emergency",
}

// HeuristicRelevance classifies m without a model. It keeps anything that
// is not clearly bulk mail.
func HeuristicRelevance(m *model.Message) Verdict {
	subject := strings.ToLower(m.Subject)
	body := strings.ToLower(m.BodyPlain)

	for _, kw := range alwaysRelevantKeywords {
		if strings.Contains(subject, kw) || strings.Contains(body, kw) {
			return Verdict{
				Relevant:  true,
				Rationale: "heuristic: mentions " + kw,
				Fallback:  true,
			}
		}
	}

	spam := 0
	for _, ind := range spamIndicators {
		if strings.Contains(subject, ind) || strings.Contains(body, ind) {
			spam++
		}
	}
	if spam >= 2 {
		return Verdict{
			Relevant:  false,
			Rationale: "heuristic: multiple spam indicators",
			Fallback:  true,
		}
	}

	promo := 0
	for _, re := range promotionalPatterns {
		if re.MatchString(body) {
			promo++
		}
	}
	if promo >= 2 && !containsAny(body, personalIndicators) {
		return Verdict{
			Relevant:  false,
			Rationale: "heuristic: promotional boilerplate",
			Fallback:  true,
		}
	}

	return Verdict{
		Relevant:  true,
		Rationale: "heuristic: no bulk mail markers",
		Fallback:  true,
	}
}

// Prioritize computes the single stored priority of m from its relevance
// and content.
func Prioritize(m *model.Message) model.Priority {
	if m.Relevance != model.RelevanceRelevant {
		return model.PriorityLow
	}

	text := strings.ToLower(m.Subject + " " + m.BodyPlain)
	if containsAny(text, urgencyKeywords) {
		return model.PriorityHigh
	}

	return model.PriorityNormal
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
