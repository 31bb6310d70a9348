package ai

import (
	"fmt"
	"strings"
)

// classifierSystemPrompt instructs the model to act as a conservative
// relevance classifier.
const classifierSystemPrompt = `You are an email relevance classifier. Be VERY CONSERVATIVE about marking emails as not relevant.

Mark as NOT_RELEVANT only if the email is clearly:
- Obvious spam (lottery winnings, get-rich-quick schemes)
- A mass marketing campaign with unsubscribe links
- An automated promotional email from a retailer
- A phishing attempt
- A purely promotional newsletter

Mark as RELEVANT if the email contains:
- Any personal communication, even if brief
- Work-related content (interviews, leave requests, project updates)
- Important notifications (password changes, account updates)
- Meeting invitations or scheduling
- Any direct communication between people

When in doubt, answer RELEVANT.

Respond in exactly this format:
VERDICT: RELEVANT or NOT_RELEVANT
REASON: one short sentence`

// summarizerSystemPrompt instructs the model to act as a bullet-point
// summarizer.
const summarizerSystemPrompt = `You are an expert email summarizer. Create concise bullet-point summaries.

Guidelines:
- Use 1-3 bullet points, each starting with "- "
- Focus on key information and action items
- Highlight deadlines or requests
- Mention if a response is needed
- Keep each point to one short sentence
- Output only the bullet points`

// drafterSystemPrompt instructs the model to draft replies as the
// mailbox owner.
const drafterSystemPrompt = `You are an email assistant drafting professional replies on behalf of the recipient of an email.

Guidelines:
- Write as the recipient responding directly, never as the original sender
- Be concise (2-4 sentences)
- Use a natural, professional tone
- Address the main point of the latest email, using the earlier conversation for context
- If someone asks a question, answer it or say when you will
- If it is a status update or FYI, acknowledge it and thank them
- Greet the sender by name and end with a professional closing
- Output only the reply body, without a subject line`

// refineSystemPrompt instructs the model to improve an existing draft.
const refineSystemPrompt = `You improve email replies. Make the reply more natural and professional while keeping its core message. Output only the improved reply body.`

// buildClassifierPrompt renders the classification request.
func buildClassifierPrompt(subject, excerpt string) string {
	return fmt.Sprintf(
		"Email Subject: %s\n\nEmail Content (excerpt): %s\n\nClassification:",
		subject, excerpt,
	)
}

// buildSummaryPrompt renders the summarization request.
func buildSummaryPrompt(subject, body string) string {
	return fmt.Sprintf(
		"Subject: %s\n\nEmail Content: %s\n\nPlease provide a bullet-point summary:",
		subject, body,
	)
}

// buildDraftPrompt renders the reply request, including the earlier part
// of the conversation when there is any.
func buildDraftPrompt(
	senderName, subject, body string,
	window *ContextWindow,
) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Sender: %s\n", senderName)
	fmt.Fprintf(&sb, "Original Email Subject: %s\n\n", subject)
	fmt.Fprintf(&sb, "Original Email Content: %s\n", body)

	if window != nil && window.Len() > 1 {
		sb.WriteString("\nEarlier messages in this conversation:\n")
		n := 0
		for f := range window.Fragments() {
			if f.Target {
				continue
			}
			n++
			fmt.Fprintf(&sb, "%d. From %s: %s\n", n, f.Sender, f.Body)
		}
	}

	sb.WriteString("\nPlease write a professional and appropriate reply. " +
		"Remember to respond as the recipient of this email:")

	return sb.String()
}

// buildRefinePrompt renders a request to improve draft.
func buildRefinePrompt(draft, instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		instruction = "none"
	}
	return fmt.Sprintf(
		"Original Reply: %s\n\nAdditional Context: %s\n\nPlease improve this reply:",
		draft, instruction,
	)
}
