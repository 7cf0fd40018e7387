package tei

import "strings"

// Shape classifies a node by how its text is extracted.
type Shape int

const (
	ShapeEmpty Shape = iota
	// ShapeText carries its own character data.
	ShapeText
	// ShapeParagraphs contains <p> children.
	ShapeParagraphs
	// ShapeTable contains <row> children.
	ShapeTable
	// ShapeHead contains a <head> child.
	ShapeHead
	// ShapeList contains <item> children.
	ShapeList
	// ShapeComposite is any other element with children.
	ShapeComposite
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeParagraphs:
		return "paragraphs"
	case ShapeTable:
		return "table"
	case ShapeHead:
		return "head"
	case ShapeList:
		return "list"
	case ShapeComposite:
		return "composite"
	default:
		return "empty"
	}
}

// ShapeOf returns the extraction shape of n. Explicit text wins over child structure.
func ShapeOf(n *Node) Shape {
	switch {
	case n == nil:
		return ShapeEmpty
	case n.ownText() != "":
		return ShapeText
	case n.Child("p") != nil:
		return ShapeParagraphs
	case n.Child("row") != nil:
		return ShapeTable
	case n.Child("head") != nil:
		return ShapeHead
	case n.Child("item") != nil:
		return ShapeList
	case len(n.Children) > 0:
		return ShapeComposite
	default:
		return ShapeEmpty
	}
}

// Text extracts the whitespace-collapsed text of n.
func Text(n *Node) string {
	var out string
	switch ShapeOf(n) {
	case ShapeText:
		out = n.ownText()
	case ShapeParagraphs:
		out = joinTexts(n.All("p"), "\n", "")
	case ShapeTable:
		rows := make([]string, 0, len(n.All("row")))
		for _, row := range n.All("row") {
			cells := row.All("cell")
			if len(cells) == 0 {
				continue
			}
			line := strings.TrimSpace(joinTexts(cells, " | ", ""))
			if line != "" {
				rows = append(rows, line)
			}
		}
		out = strings.Join(rows, "\n")
	case ShapeHead:
		out = Text(n.Child("head"))
	case ShapeList:
		out = joinTexts(n.All("item"), "\n", "- ")
	case ShapeComposite:
		parts := make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			if t := Text(c); t != "" {
				parts = append(parts, t)
			}
		}
		out = strings.Join(parts, " ")
	}
	return collapse(out)
}

func joinTexts(nodes []*Node, sep, prefix string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = prefix + Text(n)
	}
	return strings.Join(parts, sep)
}
