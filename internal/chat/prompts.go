package chat

import "github.com/kotoba-ai/kotoba/internal/llm"

// Prompt template names registered by RegisterPrompts.
const (
	PromptTranslate      = "translate"
	PromptCompact        = "compact"
	PromptAnswerGrounded = "answer_grounded"
	PromptAnswerGeneral  = "answer_general"
	PromptDetectLanguage = "detect_language"
	PromptLocalize       = "localize"
	PromptChatName       = "chat_name"
)

// FallbackAnswer is the fixed phrase a grounded agent gives when its
// knowledge store does not cover the question. It must never be paraphrased;
// callers and tests match it verbatim.
const FallbackAnswer = "I don't have that information right now."

const translatePrompt = `Translate the following text to English.
If the text is already in English, return it unchanged.
Preserve proper names, product names, and technical terms exactly as written.
Return only the translation with no explanation.

Text: {{.Input}}`

const compactPrompt = `Rewrite the following message as a short, self-contained question or statement.
Remove filler and pleasantries but keep every detail that affects the meaning.
Return only the rewritten text.

Message: {{.Input}}`

const answerGroundedPrompt = `You are {{.AgentName}}. {{.Persona}}

Use ONLY the reference material below to answer. If the material does not
contain the answer, reply with exactly: "I don't have that information right now."
Do not invent facts that are not in the material.
If the input is not a question, converse naturally in character.
Introduce yourself by name only if the conversation so far shows you have not
done so already; never re-introduce yourself.

Reference material:
{{.Context}}

Conversation so far:
{{.History}}

Question: {{.Question}}
Answer:`

const answerGeneralPrompt = `You are {{.AgentName}}. {{.Persona}}

Answer the question in character, using the conversation so far for context.
If the input is not a question, converse naturally.
Introduce yourself by name only if the conversation so far shows you have not
done so already; never re-introduce yourself.

Conversation so far:
{{.History}}

Question: {{.Question}}
Answer:`

const detectLanguagePrompt = `What language is the following text written in?
Answer with the English name of the language only (for example: English, Japanese, Spanish).

Text: {{.Input}}`

const localizePrompt = `Translate the following answer into {{.Language}}.
Preserve proper names, product names, and technical terms exactly as written.
The assistant's name "{{.AgentName}}" must be kept byte-for-byte unchanged
wherever it appears; never translate or transliterate it.
Return only the translation.

Answer: {{.Answer}}`

const chatNamePrompt = `Write a short descriptive title (at most six words) for a conversation
that starts with this exchange. Return only the title, with no quotes.

User: {{.Input}}
Assistant: {{.Answer}}`

// RegisterPrompts installs every pipeline template on the client. Call once
// during startup, before the first Respond.
func RegisterPrompts(c *llm.Client) error {
	prompts := map[string]string{
		PromptTranslate:      translatePrompt,
		PromptCompact:        compactPrompt,
		PromptAnswerGrounded: answerGroundedPrompt,
		PromptAnswerGeneral:  answerGeneralPrompt,
		PromptDetectLanguage: detectLanguagePrompt,
		PromptLocalize:       localizePrompt,
		PromptChatName:       chatNamePrompt,
	}
	for name, text := range prompts {
		if err := c.RegisterPrompt(name, text); err != nil {
			return err
		}
	}
	return nil
}
