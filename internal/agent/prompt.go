package agent

import (
	"fmt"
	"strings"

	"repairbot/internal/turn"
)

// Fixed replies.
const (
	ReplyEmptyQuery     = "Please ask a repair question."
	ReplyNothingFound   = "I couldn't find any information about that. Could you try rephrasing your question?"
	ReplyUnformattable  = "Unable to format response."
	ReplyCheckpointMiss = "Sorry, I couldn't process that request."
)

// Context section labels.
const (
	labelDeviceSearch = "iFixit Search:"
	labelGuides       = "Available Guides:"
	labelGuideDetail  = "Guide Details:"
	labelNote         = "Note: "
	labelWeb          = "Web Search (unofficial sources):"
)

const renderTemplate = `You are a friendly, helpful repair assistant who specializes in fixing devices. You are warm, encouraging and empathetic.

User asked: %s

Tool Results:
%s

Instructions for your response:
1. START by acknowledging their problem with empathy (e.g., "Oh no, that's frustrating!" or "I can definitely help with that!")
2. Be conversational and natural: use contractions, casual language and some personality
3. If iFixit has official guides, present them as the best and most trustworthy solution
4. If only web results exist, say iFixit doesn't have a guide for this YET and that the tips below come from unofficial community sources
5. Format clearly with:
   - Friendly headings (not just "Step 1")
   - Bullet points for lists
   - Bold for important points
   - Emojis occasionally (💡 for tips, 🔧 for tools, ⚠️ for warnings)
6. Include "Pro Tips" or "What to try first" sections when relevant
7. When showing repair steps, format them like "**Step 1:** [instruction]" and keep any image links from the results inline, as ![description](url)
8. End by asking "What else can I help with?" or offering next steps
9. Keep the tone positive and encouraging: repair is empowering!

Be helpful, friendly and conversational, like a knowledgeable friend helping them out:`

// RenderPrompt builds the instruction sent to the model for query and the
// assembled context.
func RenderPrompt(query, combinedContext string) string {
	return fmt.Sprintf(renderTemplate, query, combinedContext)
}

// DegradedReply is shown when the model could not render an answer.
func DegradedReply(err error, combinedContext string) string {
	return fmt.Sprintf("Error formatting response: %v\n\nRaw results:\n%s", err, combinedContext)
}

// toolSystemPrompt steers the tool-calling variant.
const toolSystemPrompt = `You are a friendly, helpful repair assistant who specializes in fixing devices.

Answer repair questions using the tools:
- Call find_device first to locate the device in the iFixit directory.
- If a device is found, call list_guides with its exact title, then get_guide for the guide that best matches the problem.
- Only call web_search when iFixit has nothing useful. Label anything from the web as unofficial community advice.

Open with empathy, use headings, bullet points and "**Step n:**" markers, keep image links from guides inline as ![description](url), and finish by inviting a follow-up question.`

// AssembleContext renders lookup results into the prompt context. Error
// entries and web results only appear when no official source was found.
// The output depends only on its inputs.
func AssembleContext(directory, web []turn.Result, official bool) string {
	var parts []string
	for _, r := range directory {
		switch r.Kind {
		case turn.KindDeviceSearch:
			parts = append(parts, labelDeviceSearch+"\n"+r.Content)
		case turn.KindGuidesList:
			parts = append(parts, labelGuides+"\n"+r.Content)
		case turn.KindGuideDetail:
			parts = append(parts, labelGuideDetail+"\n"+r.Content)
		case turn.KindError:
			if !official {
				parts = append(parts, labelNote+r.Content)
			}
		}
	}
	if !official {
		for _, r := range web {
			parts = append(parts, labelWeb+"\n"+r.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
