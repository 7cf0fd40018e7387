package tei

import (
	"encoding/xml"
	"strings"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// Node is an element of the decoded TEI tree.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Chardata string     `xml:",chardata"`
	Children []*Node    `xml:",any"`
}

func decode(raw string) (*Node, error) {
	var root Node
	if err := xml.Unmarshal([]byte(raw), &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Name returns the local element name.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.XMLName.Local
}

// Attr returns the attribute value by local name. "xml:id" style names match the xml namespace.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	space, local := "", name
	if prefix, rest, ok := strings.Cut(name, ":"); ok {
		space, local = prefix, rest
	}
	for _, a := range n.Attrs {
		if a.Name.Local != local {
			continue
		}
		if space == "" || a.Name.Space == space || (space == "xml" && a.Name.Space == xmlNamespace) {
			return a.Value
		}
	}
	return ""
}

// Child returns the first child element with the given name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// All returns every child element with the given name, in document order.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

// Path follows the first matching child for each name.
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (n *Node) ownText() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Chardata)
}
