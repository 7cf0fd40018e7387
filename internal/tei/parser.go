package tei

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Parser turns TEI XML into blocks.
type Parser struct {
	logger *log.Logger
	newID  func() string
}

// NewParser creates a Parser. A nil logger uses log.Default().
func NewParser(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.Default()
	}
	return &Parser{
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Parse extracts the ordered blocks of a TEI document.
// Malformed input yields an empty slice, never an error.
func (p *Parser) Parse(raw string) []Block {
	root, err := decode(raw)
	if err != nil {
		p.logger.Printf("tei parse failed: %v", err)
		return []Block{}
	}
	if root.Name() != "TEI" {
		p.logger.Printf("tei parse failed: missing TEI root element (got %q)", root.Name())
		return []Block{}
	}

	b := &builder{newID: p.newID}
	header := root.Child("teiHeader")
	text := root.Child("text")

	b.title(header.Path("fileDesc", "titleStmt"))
	b.authors(header)
	if abstract := header.Path("profileDesc", "abstract"); abstract != nil {
		b.add("abstract", BlockAbstract, "Abstract", Text(abstract), 0)
	}
	b.body(text.Child("body"))
	b.references(text.Child("back"))

	p.logger.Printf("tei parse extracted blocks=%d", len(b.blocks))
	return b.blocks
}

type builder struct {
	newID  func() string
	blocks []Block
}

func (b *builder) add(prefix string, typ BlockType, label, content string, level int) {
	if content == "" {
		return
	}
	b.blocks = append(b.blocks, Block{
		ID:      prefix + "_" + b.newID(),
		Type:    typ,
		Label:   label,
		Content: content,
		Preview: Preview(content),
		Level:   level,
	})
}

func (b *builder) title(titleStmt *Node) {
	titles := titleStmt.All("title")
	if len(titles) == 0 {
		return
	}
	for _, t := range titles {
		if t.Attr("type") == "main" {
			b.add("title", BlockTitle, "Title", Text(t), 0)
			return
		}
	}
	parts := make([]string, 0, len(titles))
	for _, t := range titles {
		if s := Text(t); s != "" {
			parts = append(parts, s)
		}
	}
	b.add("title", BlockTitle, "Title", strings.Join(parts, " "), 0)
}

func (b *builder) authors(header *Node) {
	authors := header.Path("fileDesc", "titleStmt").All("author")
	if len(authors) == 0 {
		authors = header.Path("fileDesc", "sourceDesc", "biblStruct", "analytic").All("author")
	}
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		pers := a.Child("persName")
		if pers == nil {
			continue
		}
		name := strings.TrimSpace(Text(pers.Child("forename")) + " " + Text(pers.Child("surname")))
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		b.add("authors", BlockAuthors, "Authors", strings.Join(names, ", "), 0)
	}
}

// body emits blocks for body children in document order. Labels come from
// positional counters, not from the source numbering.
func (b *builder) body(body *Node) {
	if body == nil {
		return
	}
	sectionCounter, figureCounter, paragraphCounter := 1, 1, 1

	for _, child := range body.Children {
		switch child.Name() {
		case "div":
			label := "Section " + strconv.Itoa(sectionCounter)
			sectionCounter++
			if head := child.Child("head"); head != nil {
				if h := Text(head); h != "" {
					label = h
				}
			}
			b.add("section", BlockSection, label, Text(child), 1)
		case "figure":
			figureID := child.Attr("xml:id")
			if figureID == "" {
				figureID = fmt.Sprintf("figure_%d", figureCounter)
				figureCounter++
			}
			if desc := child.Child("figDesc"); desc != nil {
				b.add("fig_desc", BlockFigureDescription, figureID+" Description", Text(desc), 0)
			}
			if table := child.Child("table"); table != nil {
				b.add("fig_table", BlockFigureTable, figureID+" Table", Text(table), 0)
			}
			if head := child.Child("head"); head != nil {
				b.add("fig_caption", BlockFigureCaption, figureID+" Caption", Text(head), 0)
			}
		case "p":
			label := "Paragraph " + strconv.Itoa(paragraphCounter)
			paragraphCounter++
			b.add("paragraph", BlockParagraph, label, Text(child), 0)
		}
	}
}

func (b *builder) references(back *Node) {
	var refs []*Node
	for _, div := range back.All("div") {
		refs = append(refs, div.Child("listBibl").All("biblStruct")...)
	}
	if len(refs) == 0 {
		return
	}
	lines := make([]string, 0, len(refs))
	for i, ref := range refs {
		if line := formatReference(i+1, ref); line != "" {
			lines = append(lines, line)
		}
	}
	b.add("references", BlockReferences, "References", strings.Join(lines, "\n"), 0)
}

func formatReference(index int, ref *Node) string {
	analytic := ref.Child("analytic")
	monogr := ref.Child("monogr")

	authors := analytic.All("author")
	if len(authors) == 0 {
		authors = monogr.All("author")
	}
	surnames := make([]string, 0, len(authors))
	for _, a := range authors {
		if s := Text(a.Path("persName", "surname")); s != "" {
			surnames = append(surnames, s)
		}
	}

	journal := Text(monogr.Child("title"))
	title := Text(analytic.Child("title"))
	if title == "" {
		title = journal
	}
	if title == "" {
		title = "No Title"
	}

	imprint := monogr.Child("imprint")
	date := Text(imprint.Child("date"))
	if date == "" {
		date = imprint.Child("date").Attr("when")
	}
	var volume, page string
	for _, scope := range imprint.All("biblScope") {
		switch scope.Attr("unit") {
		case "volume":
			if volume == "" {
				volume = Text(scope)
			}
		case "page":
			if page == "" {
				page = scope.Attr("from")
			}
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. %s", index, strings.Join(surnames, ", "))
	if date != "" {
		fmt.Fprintf(&sb, " (%s)", date)
	}
	fmt.Fprintf(&sb, ". %s.", title)
	if journal != "" && journal != title {
		fmt.Fprintf(&sb, " *%s*", journal)
	}
	if volume != "" {
		sb.WriteString(", " + volume)
	}
	if page != "" {
		sb.WriteString(", " + page)
	}
	return collapse(sb.String())
}
