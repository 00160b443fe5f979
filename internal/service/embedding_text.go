package service

import (
	"path/filepath"
	"strings"

	"github.com/timmy/memeindex/internal/domain"
)

var filenameSeparators = strings.NewReplacer("_", " ", "-", " ", ".", " ")

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// filenameWords turns "drake_hotline-bling.v2.png" into "drake hotline bling v2".
func filenameWords(filePath string) string {
	name := domain.FileNameOf(filePath)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return normalizeWhitespace(filenameSeparators.Replace(name))
}

// buildEmbeddingText is the text embedded for an item: the cleaned file
// name, then the description.
func buildEmbeddingText(filePath, description string) string {
	description = normalizeWhitespace(strings.TrimSpace(description))
	words := filenameWords(filePath)
	if words == "" {
		return description
	}
	return words + ". " + description
}

// queryTokens splits a search query into lowercase whitespace-separated tokens.
func queryTokens(query string) []string {
	return strings.Fields(strings.ToLower(strings.TrimSpace(query)))
}
