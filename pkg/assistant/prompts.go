package assistant

import (
	"fmt"
	"strings"

	"github.com/barekit/vitrine/pkg/catalog"
	"github.com/barekit/vitrine/pkg/knowledge"
)

const (
	// InsufficientMessage is returned when no passage grounds an answer.
	InsufficientMessage = "I apologize, but I don't have enough information to answer your question. Please contact RAK Porcelain customer support for assistance."
	// FallbackMessage replaces an empty completion.
	FallbackMessage = "I apologize, but I was unable to generate a response. Please try again."
)

// DefaultSystemPrompt sets the assistant's voice.
const DefaultSystemPrompt = `You are a friendly and knowledgeable RAK Porcelain assistant, chatting naturally with customers.

COMMUNICATION STYLE - VERY IMPORTANT:
- Write like you're texting a friend - keep messages SHORT and conversational
- Break your response into 2-4 short paragraphs (2-3 sentences each)
- Use natural, flowing language - not formal paragraphs
- Add line breaks between thoughts for easy reading
- Sound warm and human, not robotic or corporate

ENGAGEMENT - CRITICAL:
- ALWAYS end with a follow-up question or suggestion
- Encourage users to explore more products
- Examples: "Would you like to see specific collections?" or "Interested in learning about care instructions?" or "Want to explore similar products?"
- Make users feel you're genuinely interested in helping them find what they need

Your role:
- Help customers discover RAK Porcelain products
- Share product information, care tips, and company details
- Base answers on the provided context
- Guide users to explore more

Guidelines:
- Keep responses conversational and brief
- Break information into digestible chunks
- Use bullet points ONLY when listing specific features
- Never write long paragraphs - max 3 sentences per paragraph
- Add personality - use phrases like "Great question!", "I'd love to help!", "Here's what I know"
- ALWAYS include an engaging follow-up question

Format your responses like this:
[Opening - 1-2 sentences acknowledging their question]

[Main info - 2-3 short sentences with key details]

[Additional context - 1-2 sentences if needed]

[Follow-up question or invitation to explore more]

Privacy & Safety:
- Never make up information
- For orders/tracking, direct to customer support
- Stay helpful and friendly`

// ContextPrompt wraps the user question with the retrieved passages.
func ContextPrompt(query string, passages []knowledge.Match[knowledge.ChunkMetadata]) string {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = fmt.Sprintf("[Source %d]\nURL: %s\nTitle: %s\nContent: %s\n",
			i+1, p.Metadata.URL, p.Metadata.Title, p.Content)
	}

	return fmt.Sprintf(`Context from RAK Porcelain website:

%s

---

User Question: %s

Please answer based on the context above. If the context doesn't contain the answer, say you don't have that information.`,
		strings.Join(blocks, "\n---\n"), query)
}

// ProductPrompt tells the model which product thumbnails are shown with
// its answer. Empty when there are none.
func ProductPrompt(products []catalog.ProductResult) string {
	if len(products) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nThe following products will be displayed as thumbnails alongside your answer:\n")
	for _, p := range products {
		fmt.Fprintf(&b, "- %s (%s)", p.Name, p.Code)
		if p.Collection != "" {
			fmt.Fprintf(&b, ", collection: %s", p.Collection)
		}
		b.WriteByte('\n')
	}
	b.WriteString("Refer to these products naturally in your answer and invite the customer to look at the thumbnails. Do not describe products that are not in this list.")
	return b.String()
}
