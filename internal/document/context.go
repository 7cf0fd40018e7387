package document

import (
	"fmt"
	"unicode/utf8"

	"github.com/yarikpiskun41/llm-pdf-parser/internal/llm"
	"github.com/yarikpiskun41/llm-pdf-parser/internal/tei"
)

const (
	// DefaultContextBudget bounds the characters of block content sent with one prompt.
	DefaultContextBudget = 100000
	maxSectionName       = 100
)

// AskContext is the material selected for one prompt.
type AskContext struct {
	Sections []llm.Section
	// Length is the number of content characters counted against the budget.
	Length   int
	Warnings []string
}

// BuildContext collects the selected blocks in selection order. A block is
// included only while the running length stays strictly below budget; unknown
// ids and blocks that do not fit are skipped with a warning. Blocks sharing a
// section name replace the earlier content in place.
func BuildContext(blocks []tei.Block, ids []string, budget int) AskContext {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	byID := make(map[string]tei.Block, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}

	var out AskContext
	index := make(map[string]int)
	for _, id := range ids {
		block, ok := byID[id]
		if !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("selected block %q not found", id))
			continue
		}
		n := utf8.RuneCountInString(block.Content)
		if out.Length+n >= budget {
			out.Warnings = append(out.Warnings, fmt.Sprintf("skipping block %s (%q) due to context length limit", block.ID, block.Label))
			continue
		}
		name := SectionName(block)
		if i, dup := index[name]; dup {
			out.Sections[i].Content = block.Content
		} else {
			index[name] = len(out.Sections)
			out.Sections = append(out.Sections, llm.Section{Name: name, Content: block.Content})
		}
		out.Length += n
	}
	return out
}

// SectionName labels a block in the prompt as "<type>: <label>", cut to 100 characters.
func SectionName(b tei.Block) string {
	name := string(b.Type) + ": " + b.Label
	if utf8.RuneCountInString(name) <= maxSectionName {
		return name
	}
	return string([]rune(name)[:maxSectionName])
}
