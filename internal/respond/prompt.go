package respond

import (
	"fmt"
	"strings"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/pkg/provider/llm"
	"github.com/MrWong99/helpdesk/pkg/types"
)

const systemPrompt = `You are an IT help desk assistant for a corporate environment. Answer the user's request professionally and helpfully.

Rules:
1. Use only the provided knowledge to answer.
2. Be clear and concise. Give concrete steps where they apply.
3. Never invent phone numbers, ticket IDs, URLs or contacts.
4. If the knowledge is not enough, say so and point to the responsible team instead of guessing.
5. Format the answer with short sections or bullet points where it helps.`

const escalatedNote = "The request is being handed to a human specialist. Only summarise self-help steps the user can try while waiting; do not promise a resolution."

// BuildPrompt assembles the completion request for in. Retrieved chunks are
// numbered as "[Knowledge i from source - section]".
func BuildPrompt(in Input, entry category.Entry, escalated bool) llm.CompletionRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "USER REQUEST: %s\n\n", in.Request)
	fmt.Fprintf(&b, "CATEGORY: %s", entry.ID)
	if entry.Description != "" {
		fmt.Fprintf(&b, " - %s", entry.Description)
	}
	b.WriteString("\n")
	if entry.ResolutionTime != "" {
		fmt.Fprintf(&b, "TYPICAL RESOLUTION TIME: %s\n", entry.ResolutionTime)
	}
	fmt.Fprintf(&b, "ESCALATION CONTACT: %s\n", entry.Contact)
	if in.Escalation.Required {
		fmt.Fprintf(&b, "ESCALATION: required (%s), contact %s\n", in.Escalation.Reason, in.Escalation.Contact)
	}

	b.WriteString("\nRELEVANT KNOWLEDGE:\n")
	if len(in.Retrieval) == 0 {
		b.WriteString("(none found)\n")
	}
	for i, hit := range in.Retrieval {
		fmt.Fprintf(&b, "[Knowledge %d from %s]\n%s\n\n", i+1, sourceLabel(hit.Chunk), hit.Chunk.Text)
	}

	system := systemPrompt
	if escalated {
		system += "\n\n" + escalatedNote
	}
	return llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: strings.TrimRight(b.String(), "\n")}},
	}
}

func sourceLabel(c types.KnowledgeChunk) string {
	if c.Section == "" {
		return string(c.Source)
	}
	return string(c.Source) + " - " + c.Section
}

// Template renders a reply from the retrieved knowledge without an LLM.
func Template(in Input, entry category.Entry) string {
	var b strings.Builder
	if len(in.Retrieval) == 0 {
		fmt.Fprintf(&b, "I could not find a knowledge base article that matches your %s request.\n", labelOf(entry))
		fmt.Fprintf(&b, "Please contact %s and include as much detail as you can.", entry.Contact)
		return b.String()
	}

	fmt.Fprintf(&b, "Here is what our knowledge base says about your %s request:\n", labelOf(entry))
	for _, hit := range in.Retrieval {
		fmt.Fprintf(&b, "\n%s:\n%s\n", sourceLabel(hit.Chunk), strings.TrimSpace(hit.Chunk.Text))
	}
	if entry.ResolutionTime != "" {
		fmt.Fprintf(&b, "\nRequests like this typically take %s to resolve.", entry.ResolutionTime)
	}
	fmt.Fprintf(&b, "\nIf this does not help, contact %s.", entry.Contact)
	return b.String()
}

// EscalationNotice tells the user who takes over, how to reach them and
// where to look while they wait.
func EscalationNotice(entry category.Entry, d types.EscalationDecision, wait string) string {
	team := entry.Team
	if team == "" || d.Reason == types.ReasonLowConfidence {
		team = "IT Support Team"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I'm escalating your request to our %s for specialised assistance.\n\n", team)
	fmt.Fprintf(&b, "This is due to: %s\n\n", reasonText(d))
	b.WriteString("What happens next:\n")
	b.WriteString("1. A support specialist will review your request.\n")
	fmt.Fprintf(&b, "2. You should receive a response within %s.\n", wait)
	fmt.Fprintf(&b, "3. You can contact the team directly at %s.\n", d.Contact)
	if len(entry.SelfHelp) > 0 && d.Reason != types.ReasonLowConfidence {
		b.WriteString("\nWhile you wait, these resources may help:\n")
		for _, l := range entry.SelfHelp {
			fmt.Fprintf(&b, "- %s: %s\n", l.Title, l.URL)
		}
	}
	b.WriteString("\nThank you for your patience.")
	return b.String()
}

func reasonText(d types.EscalationDecision) string {
	switch d.Reason {
	case types.ReasonCategoryForced:
		return "this type of issue is always handled by a specialist"
	case types.ReasonLowConfidence:
		return "we could not determine the type of your request with enough confidence"
	case types.ReasonUrgencyKeyword:
		return fmt.Sprintf("your request is marked as urgent (%s)", d.Detail)
	case types.ReasonTriggerPhrase:
		return fmt.Sprintf("your request mentions %q", d.Detail)
	}
	return d.Detail
}

func labelOf(e category.Entry) string {
	if e.Label != "" {
		return strings.ToLower(e.Label)
	}
	return strings.ReplaceAll(e.ID.String(), "_", " ")
}
