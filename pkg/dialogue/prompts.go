package dialogue

import (
	"fmt"
	"strings"
)

const deciderPrompt = `You decide whether a tool is needed before %[1]s answers the user.
Available tools:
%[2]s

Guidelines:
- query_short_term_memory(): for facts from recent exchanges that are not in the immediate history.
- query_long_term_memory(query_keywords='...'): for older topics; pass relevant keywords taken from the user's question.
- get_current_time(): if the time is asked for.
- register_face(): if the user asks to register their face.
- end_conversation(): if the user explicitly wants to stop.

Answer on ONE line.
- If NO tool is needed, answer EXACTLY: NONE
- Otherwise answer with the call, for example tool_name() or tool_name(query_keywords='...').
- Do NOT explain the decision. Do NOT add text before or after the call or NONE.`

const responsePrompt = `You are %[1]s, a friendly and helpful companion robot. Continue the conversation naturally and concisely.
Stay rather positive and do not apologize. Be empathetic: mirror the user's feelings when it fits.
NEVER REPEAT PREVIOUS MESSAGES.

User context:
- First name: %[2]s
- Emotion detected on the user's face (treat with care, may be "impossible" or "---"): %[3]s

%[4]s`

const emotionPrompt = `You interpret the emotion of %[1]s from her reply and the recent context.
Answer empathetically: if the user is disgusted, pick the emotion associated with disgust.
If the reply suggests another emotion, for example the user seems upset and %[1]s answers reassuringly, adapt.
Recent conversation:
%[2]s
The reply of %[1]s to analyze is: "%[3]s"

Pick the single most fitting emotion for %[1]s among: %[4]s.
Answer ONLY with the name of the emotion.
Emotion of %[1]s:`

func buildDeciderPrompt(assistant string, toolSummaries []string) string {
	return fmt.Sprintf(deciderPrompt, assistant, strings.Join(toolSummaries, "\n"))
}

func buildDeciderInput(history []string, userText string) string {
	var sb strings.Builder
	sb.WriteString("Recent history of this conversation:\n")
	sb.WriteString(joinOr(history, "(Start of the conversation)"))
	sb.WriteString("\n\nUser: ")
	sb.WriteString(userText)
	sb.WriteString("\nTool decision:")
	return sb.String()
}

func buildResponsePrompt(assistant, userName, userEmotion string, toolNotes []string) string {
	toolContext := "No tool was used."
	if len(toolNotes) > 0 {
		toolContext = "Context provided by the tools:\n" + strings.Join(toolNotes, "\n") + "\n"
	}
	return fmt.Sprintf(responsePrompt, assistant, userName, userEmotion, toolContext)
}

func buildResponseInput(assistant string, history []string, userText string) string {
	lines := append(append([]string(nil), history...), "User: "+userText)
	return "Conversation history (the last message is the user's; answer as " + assistant + "):\n" +
		strings.Join(lines, "\n") + "\n" + assistant + ":"
}

func buildEmotionPrompt(assistant string, emotionLog []string, userText, reply string, emotions []string) string {
	lines := append(append([]string(nil), emotionLog...), "User: "+userText)
	return fmt.Sprintf(emotionPrompt, assistant, strings.Join(lines, "\n"), reply, strings.Join(emotions, ", "))
}

func joinOr(lines []string, fallback string) string {
	if len(lines) == 0 {
		return fallback
	}
	return strings.Join(lines, "\n")
}
