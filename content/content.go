// Package content normalizes chapter HTML fragments: ad and hidden node
// scrubbing, XHTML sanitation, and footnote extraction with chapter scoped
// identifier rewriting.
package content

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var noteIDPatt = regexp.MustCompile(`^note\d+$`)

// removedSelectors matches elements dropped wholesale during cleaning.
const removedSelectors = ".d-none, .d-md-block, .flex, .note-content"

// Definitions is an insertion ordered id to content mapping of footnote
// definitions found in a chapter.
type Definitions struct {
	ids  []string
	byID map[string]string
}

func NewDefinitions() *Definitions {
	return &Definitions{byID: map[string]string{}}
}

// Add records a definition, keeping first insertion order. Re-adding an id
// overwrites its content without moving it.
func (defs *Definitions) Add(id, content string) {
	if _, ok := defs.byID[id]; !ok {
		defs.ids = append(defs.ids, id)
	}
	defs.byID[id] = content
}

// Get returns content of given id and whether it exists.
func (defs *Definitions) Get(id string) (string, bool) {
	content, ok := defs.byID[id]
	return content, ok
}

// IDs returns all ids in insertion order.
func (defs *Definitions) IDs() []string {
	return defs.ids
}

// Len returns number of definitions.
func (defs *Definitions) Len() int {
	return len(defs.ids)
}

// parseFragment wraps an HTML fragment into a full document for goquery
// operations.
func parseFragment(fragment string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(fragment))
}

// renderFragment serializes the body content of a parsed fragment back into a
// string.
func renderFragment(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		out, _ := doc.Html()
		return out
	}

	out, err := body.Html()
	if err != nil {
		return ""
	}

	return out
}

// removeCommentNodes strips every comment node in the subtree.
func removeCommentNodes(node *html.Node) {
	child := node.FirstChild
	for child != nil {
		next := child.NextSibling

		if child.Type == html.CommentNode {
			node.RemoveChild(child)
		} else {
			removeCommentNodes(child)
		}

		child = next
	}
}

// ScrubStructural removes comment nodes, new-tab links and hidden utility
// class elements from a parsed subtree.
func ScrubStructural(root *goquery.Selection) {
	for _, node := range root.Nodes {
		removeCommentNodes(node)
	}

	root.Find(`[target="_blank"], [target="__blank"]`).Remove()
	root.Find(removedSelectors).Remove()
}

// RemoveEmptyContainers drops p, div and span elements that have neither
// visible text nor an img descendant.
func RemoveEmptyContainers(root *goquery.Selection) {
	root.Find("p, div, span").Each(func(_ int, el *goquery.Selection) {
		if strings.TrimSpace(el.Text()) == "" && el.Find("img").Length() == 0 {
			el.Remove()
		}
	})
}

// CleanHTML removes comment nodes, elements opening in a new tab, hidden
// utility class elements, and residual empty containers from a fragment.
func CleanHTML(fragment string) string {
	doc, err := parseFragment(fragment)
	if err != nil {
		return fragment
	}

	ScrubStructural(doc.Selection)
	RemoveEmptyContainers(doc.Selection)

	return renderFragment(doc)
}

var (
	emptyParagraphPatt = regexp.MustCompile(`(?i)<p[^>]*>(\s|&nbsp;|&#160;|<br\s*/?>)*</p>`)
	repeatedBreakPatt  = regexp.MustCompile(`(?i)(<br\s*/?>\s*){3,}`)
	repeatedLinePatt   = regexp.MustCompile(`\n{3,}`)
)

// SanitizeXHTML applies string level cleanup in a fixed order: entity fix,
// empty paragraph removal, repeated line break collapsing.
func SanitizeXHTML(fragment string) string {
	if fragment == "" {
		return ""
	}

	safe := strings.ReplaceAll(fragment, "&nbsp;", "&#160;")
	safe = emptyParagraphPatt.ReplaceAllString(safe, "")
	safe = repeatedBreakPatt.ReplaceAllString(safe, "<br/><br/>")
	safe = repeatedLinePatt.ReplaceAllString(safe, "\n\n")

	return strings.TrimSpace(safe)
}

// CollapseBlankLines shrinks runs of three or more newlines down to two.
func CollapseBlankLines(fragment string) string {
	return repeatedLinePatt.ReplaceAllString(fragment, "\n\n")
}

// CollectDefinitions scans div[id=note<digits>] elements under the selection
// and records their content. When `remove` is set matched divs are detached
// from the tree.
func CollectDefinitions(root *goquery.Selection, remove bool) *Definitions {
	defs := NewDefinitions()

	root.Find("div[id]").Each(func(_ int, div *goquery.Selection) {
		id, _ := div.Attr("id")
		if !noteIDPatt.MatchString(id) {
			return
		}

		text := strings.TrimSpace(div.Find("span.note-content_real").First().Text())
		if text == "" {
			text = strings.TrimSpace(div.Text())
		}

		if text != "" {
			defs.Add(id, text)
		}

		if remove {
			div.Remove()
		}
	})

	return defs
}

// ExtractFootnoteDefinitions returns the footnote definitions contained in a
// fragment without modifying it.
func ExtractFootnoteDefinitions(fragment string) *Definitions {
	doc, err := parseFragment(fragment)
	if err != nil {
		return NewDefinitions()
	}

	return CollectDefinitions(doc.Selection, false)
}

var (
	bracketMarkerPatt = regexp.MustCompile(`((?:\(\d+\)|\[\d+\])?)\s*\[(note\d+)\]`)
	anchorMarkerPatt  = regexp.MustCompile(`<a[^>]*href=["']#(note\d+)["'][^>]*>([^<]*)</a>`)
)

// ConvertFootnoteMarkers rewrites inline footnote markers into epub noteref
// links scoped by `slug`. Both the bracket form `[noteN]` (optionally preceded
// by a visible number) and pre-existing `<a href="#noteN">` anchors are
// handled with one shared label counter. Returns the rewritten fragment and
// the ordered, duplicate free list of referenced ids.
func ConvertFootnoteMarkers(fragment string, defs *Definitions, slug string) (string, []string) {
	used := []string{}
	seen := map[string]bool{}
	counter := 1

	markUsed := func(id string) {
		if !seen[id] {
			seen[id] = true
			used = append(used, id)
		}
	}

	result := bracketMarkerPatt.ReplaceAllStringFunc(fragment, func(match string) string {
		groups := bracketMarkerPatt.FindStringSubmatch(match)
		preceding, id := groups[1], groups[2]

		if _, ok := defs.Get(id); !ok {
			return match
		}

		markUsed(id)

		label := strings.TrimSpace(preceding)
		if label == "" {
			label = "[" + strconv.Itoa(counter) + "]"
			counter++
		}

		return noteRefLink(slug, id, label)
	})

	result = anchorMarkerPatt.ReplaceAllStringFunc(result, func(match string) string {
		groups := anchorMarkerPatt.FindStringSubmatch(match)
		id, text := groups[1], groups[2]

		if _, ok := defs.Get(id); !ok {
			return match
		}

		markUsed(id)

		label := strings.TrimSpace(text)
		if label == "" {
			label = "[" + strconv.Itoa(counter) + "]"
			counter++
		}

		return noteRefLink(slug, id, label)
	})

	return result, used
}

func noteRefLink(slug, id, label string) string {
	return `<a epub:type="noteref" href="#` + slug + `_` + id + `" class="footnote-link">` + label + `</a>`
}

// GenerateFootnoteAsides renders footnote bodies as epub aside blocks in the
// order they were referenced. With `includeUnused` set, definitions never
// referenced in the text are appended afterwards under a distinct header, in
// definition insertion order.
func GenerateFootnoteAsides(used []string, defs *Definitions, slug string, includeUnused bool) string {
	builder := strings.Builder{}
	seen := map[string]bool{}

	for _, id := range used {
		content, ok := defs.Get(id)
		if !ok {
			continue
		}

		seen[id] = true
		writeAside(&builder, slug, id, content, "Ghi chú")
	}

	if includeUnused {
		for _, id := range defs.IDs() {
			if seen[id] {
				continue
			}

			content, _ := defs.Get(id)
			writeAside(&builder, slug, id, content, "Ghi chú (Thêm)")
		}
	}

	return builder.String()
}

func writeAside(builder *strings.Builder, slug, id, content, header string) {
	builder.WriteString("\n<aside id=\"")
	builder.WriteString(slug)
	builder.WriteString("_")
	builder.WriteString(id)
	builder.WriteString("\" epub:type=\"footnote\" class=\"footnote-content\">\n")
	builder.WriteString("<div class=\"note-header\">")
	builder.WriteString(header)
	builder.WriteString(":</div>\n<p>")
	builder.WriteString(content)
	builder.WriteString("</p>\n</aside>\n")
}

// ProcessFootnotes extracts footnote definitions from a fragment (removing
// their source divs and any .note-reg container), rewrites inline markers and
// appends the generated asides, unused definitions included.
func ProcessFootnotes(fragment string, slug string) string {
	doc, err := parseFragment(fragment)
	if err != nil {
		return fragment
	}

	defs := CollectDefinitions(doc.Selection, true)
	doc.Find(".note-reg").Remove()

	rewritten, used := ConvertFootnoteMarkers(renderFragment(doc), defs, slug)

	return rewritten + GenerateFootnoteAsides(used, defs, slug, true)
}

// ProcessContent is the full normalization pipeline applied to a downloaded
// chapter body.
func ProcessContent(fragment string, slug string) string {
	return SanitizeXHTML(ProcessFootnotes(CleanHTML(fragment), slug))
}
