package retrieval

import "strings"

// Length is the requested answer length. Short < Normal < Long.
type Length int

const (
	Short Length = iota
	Normal
	Long
)

func (l Length) String() string {
	switch l {
	case Short:
		return "short"
	case Long:
		return "long"
	default:
		return "normal"
	}
}

// MaxTokens is the completion budget for the length.
func (l Length) MaxTokens() int {
	switch l {
	case Short:
		return 150
	case Long:
		return 800
	default:
		return 400
	}
}

// Style is the directive appended to the system prompt.
func (l Length) Style() string {
	switch l {
	case Short:
		return "Respond briefly and to the point."
	case Long:
		return "Provide a detailed explanation with examples if needed."
	default:
		return "Keep your response concise but informative."
	}
}

var (
	shortKeywords = []string{"in short", "briefly", "summary", "quickly", "short answer"}
	longKeywords  = []string{"in detail", "elaborate", "long answer", "full explanation", "explain thoroughly"}
)

// DetectAnswerLength classifies a query by keyword. Short keywords win over
// long ones when both appear.
func DetectAnswerLength(query string) Length {
	q := strings.ToLower(query)
	for _, kw := range shortKeywords {
		if strings.Contains(q, kw) {
			return Short
		}
	}
	for _, kw := range longKeywords {
		if strings.Contains(q, kw) {
			return Long
		}
	}
	return Normal
}

const systemPromptBase = "You are a helpful technical assistant. Only answer based on the provided context. " +
	"Structure your response naturally using plain text, bullet points, or tables when appropriate."

const userPromptTemplate = `You are an expert assistant helping explain telecom technical documentation to engineers and curious professionals.

Strictly use only the information from the context below to answer the user's question.
Do not add external knowledge or make up content.

Format your answer in a clean and structured way:
- Use plain text for explanations.
- Use bullet points or tables only when the content naturally fits that format (e.g., lists of features, differences, conditions).
- Avoid redundant phrases or overuse of formatting.

---

Question:
{{query}}

---

Context:
{{context}}`

// BuildPrompts returns the system and user prompts for a query.
func BuildPrompts(query, context string, length Length) (system, user string) {
	system = systemPromptBase + " " + length.Style()
	user = strings.NewReplacer("{{query}}", query, "{{context}}", context).Replace(userPromptTemplate)
	return system, user
}
