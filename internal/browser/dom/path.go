package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// UniquePath generates a CSS selector that addresses exactly this element,
// anchored at the nearest ancestor with an id when there is one.
func (e *Element) UniquePath() string {
	var path []string
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		tag := strings.ToLower(n.Data)
		if id, ok := getAttr(n, "id"); ok && isSimpleIdent(id) && e.doc.idIsUnique(id) {
			path = append(path, "#"+id)
			break
		}
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			path = append(path, tag)
			break
		}
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s:nth-of-type(%d)", tag, index))
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return strings.Join(path, " > ")
}

func (d *Document) idIsUnique(id string) bool {
	count := 0
	walk(d.root, func(n *html.Node) {
		if v, ok := getAttr(n, "id"); ok && v == id {
			count++
		}
	})
	return count == 1
}

func isSimpleIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}
