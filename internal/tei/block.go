// Package tei converts GROBID TEI documents into ordered content blocks.
package tei

import "strings"

// BlockType is the kind of content a Block carries.
type BlockType string

const (
	BlockTitle             BlockType = "title"
	BlockAuthors           BlockType = "authors"
	BlockAbstract          BlockType = "abstract"
	BlockSection           BlockType = "section"
	BlockParagraph         BlockType = "paragraph"
	BlockFigureDescription BlockType = "figure_description"
	BlockFigureTable       BlockType = "figure_table"
	BlockFigureCaption     BlockType = "figure_caption"
	BlockReferences        BlockType = "references"
)

// Block is one extracted unit of document content. Blocks are immutable once parsed.
type Block struct {
	ID      string    `json:"id"`
	Type    BlockType `json:"type"`
	Label   string    `json:"label"`
	Content string    `json:"content"`
	Preview string    `json:"preview,omitempty"`
	Level   int       `json:"level,omitempty"`
}

const previewLength = 150

// Preview returns the whitespace-collapsed text cut to 150 characters.
func Preview(text string) string {
	cleaned := collapse(text)
	runes := []rune(cleaned)
	if len(runes) <= previewLength {
		return cleaned
	}
	return string(runes[:previewLength]) + "..."
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
