package export

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
)

// ErrSubtreeNotFound はエクスポート対象の要素が見つからない場合のエラー。
var ErrSubtreeNotFound = errors.New("export subtree not found")

// ThemeOverride はダークモード専用のクラスを持つ要素に適用するインラインスタイル。
type ThemeOverride struct {
	Marker   string
	Property string
	Value    string
}

// ThemeOverrides はライトモードで出力する際の置き換え表。
var ThemeOverrides = []ThemeOverride{
	{Marker: "dark:text-white", Property: "color", Value: "#111827"},
	{Marker: "dark:text-gray-100", Property: "color", Value: "#374151"},
	{Marker: "dark:text-gray-300", Property: "color", Value: "#6b7280"},
	{Marker: "dark:text-gray-400", Property: "color", Value: "#9ca3af"},
	{Marker: "dark:text-green-400", Property: "color", Value: "#16a34a"},
	{Marker: "dark:border-gray-700", Property: "border-color", Value: "#e5e7eb"},
	{Marker: "dark:border-green-700", Property: "border-color", Value: "#86efac"},
	{Marker: "dark:bg-slate-900", Property: "background-color", Value: "#ffffff"},
}

const lightBackground = "#ffffff"

// CloneSubtree は "#id" 形式のセレクタに一致する要素を探し、その深いコピーを返す。
// 返すノードは親を持たず、元の文書は変更されない。
func CloneSubtree(doc *html.Node, selector string) (*html.Node, error) {
	id, ok := strings.CutPrefix(selector, "#")
	if !ok || id == "" {
		return nil, errors.New("selector must be an element id: " + selector)
	}
	n := findByID(doc, id)
	if n == nil {
		return nil, ErrSubtreeNotFound
	}
	return cloneNode(n), nil
}

// NormalizeTheme はクローンしたサブツリーをライトテーマに揃える。
// ルートの背景を白にして dark クラスを外し、子孫要素に置き換え表のスタイルを付与する。
func NormalizeTheme(root *html.Node, overrides []ThemeOverride) {
	if root == nil || root.Type != html.ElementNode {
		return
	}

	setStyle(root, "background-color", lightBackground)
	removeClass(root, "dark")

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			classes := classList(c)
			for _, o := range overrides {
				if containsClass(classes, o.Marker) {
					setStyle(c, o.Property, o.Value)
				}
			}
			walk(c)
		}
	}
	walk(root)
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func classList(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func containsClass(classes []string, name string) bool {
	for _, c := range classes {
		if c == name {
			return true
		}
	}
	return false
}

func removeClass(n *html.Node, name string) {
	classes := classList(n)
	if !containsClass(classes, name) {
		return
	}
	kept := classes[:0]
	for _, c := range classes {
		if c != name {
			kept = append(kept, c)
		}
	}
	setAttr(n, "class", strings.Join(kept, " "))
}

// setStyle はstyle属性の宣言を1件置き換える。同じプロパティが既にあれば上書きする。
func setStyle(n *html.Node, property, value string) {
	var decls []string
	for _, d := range strings.Split(attr(n, "style"), ";") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		name, _, _ := strings.Cut(d, ":")
		if strings.EqualFold(strings.TrimSpace(name), property) {
			continue
		}
		decls = append(decls, d)
	}
	decls = append(decls, property+": "+value)
	setAttr(n, "style", strings.Join(decls, "; "))
}
