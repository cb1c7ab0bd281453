package extract

import (
	"fmt"
	"strings"
)

const maxPromptContentChars = 12000

func analysisPrompt(content, hints string) string {
	var b strings.Builder
	b.WriteString("You are a financial news analyst. Analyze the article below and respond with a single JSON object with keys: ")
	b.WriteString(`"title", "summary", "topic", "author", "published_at" (ISO 8601 or empty), "high_impact" (boolean).`)
	b.WriteString("\nRespond with JSON only.\n")
	if hints != "" {
		fmt.Fprintf(&b, "\nExtraction hints from the source owner: %s\n", hints)
	}
	b.WriteString("\nArticle:\n")
	b.WriteString(truncate(content, maxPromptContentChars))
	return b.String()
}

func entitiesPrompt(title, content string) string {
	var b strings.Builder
	b.WriteString("Identify every publicly traded company mentioned in the article below. Respond with a JSON array; each element has keys: ")
	b.WriteString(`"ticker", "company_name", "exchange", "segment", "sentiment" (-1.0 to 1.0), "sentiment_label", "confidence" (0.0 to 1.0), "snippet".`)
	b.WriteString("\nScore sentiment per company independently. Respond with JSON only.\n")
	if title != "" {
		fmt.Fprintf(&b, "\nTitle: %s\n", title)
	}
	b.WriteString("\nArticle:\n")
	b.WriteString(truncate(content, maxPromptContentChars))
	return b.String()
}

func containerPrompt(candidates []string) string {
	var b strings.Builder
	b.WriteString("The screenshot shows a news listing page. Below are candidate DOM containers that may hold the article list. ")
	b.WriteString(`Pick the one matching the main article list in the screenshot. Respond with a JSON object {"index": <number>} using the zero-based index, or -1 if none match.`)
	b.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d: %s\n", i, c)
	}
	return b.String()
}
