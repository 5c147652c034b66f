// Package ai adapts model servers to the describe and embed operations the
// organizer needs.
package ai

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
)

// DescribePrompt asks a vision model for a short filename-friendly caption.
const DescribePrompt = `Analyze this image and provide a concise 5-8 word description focusing on:
1. Main subject (person, object, scene)
2. Art style (realistic, anime, abstract, fantasy, etc.)
3. Key visual elements (colors, mood, setting)

Format: [subject] [style] [key_elements]
Examples:
- "woman cyberpunk neon purple hair portrait"
- "dragon fantasy mountain castle sunset scene"
- "abstract geometric colorful swirl pattern"
- "anime girl school uniform pink hair"

Description:`

var ErrEmptyDescription = errors.New("model returned an empty description")

// Describer turns an image into a short text description.
type Describer interface {
	Describe(ctx context.Context, imagePath, model string) (string, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client is a model server that can do both.
type Client interface {
	Describer
	Embedder
}

var (
	nonWordPattern    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// CleanDescription lowercases a model caption, strips quotes and punctuation
// and collapses whitespace.
func CleanDescription(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.NewReplacer(`"`, "", "'", "").Replace(text)
	text = nonWordPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func imageMIMEType(path string, data []byte) string {
	if detected := http.DetectContentType(data); strings.HasPrefix(detected, "image/") {
		return detected
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".tiff" || ext == ".tif" {
		return "image/tiff"
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return "image/jpeg"
}
