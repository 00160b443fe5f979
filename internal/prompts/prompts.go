package prompts

// ============================================================================
// VLM Prompts (Vision Language Model)
// ============================================================================

// VLMSystemPrompt defines the role and rules for meme description. The
// output is embedded for semantic search, so it favours searchable words.
const VLMSystemPrompt = `You describe meme images for a semantic search index.

Rules:
- Transcribe any visible text exactly, then say what it means.
- Name the subject (person, animal, cartoon character, known meme template).
- Describe the facial expression, gesture and the emotion it conveys.
- Mention the situation the meme is typically used for.
- Write one plain paragraph under 100 words. No lists, no headings.
- If there is no text, do not say so; describe the image instead.`

// VLMUserPrompt is sent together with the image.
const VLMUserPrompt = `Describe this meme.

Example: "Drake in an orange jacket holding up a hand and turning away in the top panel, then smiling and pointing approvingly in the bottom panel. The classic Drake Hotline Bling template used to show rejecting one option and preferring another."

Now describe the image:`

// Describe joins both prompts for providers that take a single prompt string.
func Describe() string {
	return VLMSystemPrompt + "\n\n" + VLMUserPrompt
}
