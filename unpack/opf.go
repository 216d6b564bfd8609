package unpack

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"github.com/beevik/etree"
)

const containerDocumentPath = "META-INF/container.xml"

type containerFile struct {
	XMLName       xml.Name       `xml:"urn:oasis:names:tc:opendocument:xmlns:container container"`
	RootFileInfos []rootFileInfo `xml:"rootfiles>rootfile"`
}

type rootFileInfo struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

type packageDocument struct {
	XMLName  xml.Name       `xml:"package"`
	Metadata packageMeta    `xml:"metadata"`
	Manifest []manifestItem `xml:"manifest>item"`
	Spine    spineInfo      `xml:"spine"`
}

type packageMeta struct {
	Title       string     `xml:"title"`
	Creator     string     `xml:"creator"`
	Description string     `xml:"description"`
	Subjects    []string   `xml:"subject"`
	Metas       []metaItem `xml:"meta"`
}

type metaItem struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type manifestItem struct {
	Id         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type spineInfo struct {
	Toc   string      `xml:"toc,attr"`
	Items []spineItem `xml:"itemref"`
}

type spineItem struct {
	IdRef string `xml:"idref,attr"`
}

func parsePackageLocation(data []byte) (string, error) {
	container := containerFile{}
	if err := xml.Unmarshal(data, &container); err != nil {
		return "", fmt.Errorf("failed to parse container document: %s", err)
	}

	for _, info := range container.RootFileInfos {
		if info.FullPath != "" {
			return info.FullPath, nil
		}
	}

	return "", fmt.Errorf("container document lists no rootfile")
}

func parsePackageDocument(data []byte) (*packageDocument, error) {
	pack := packageDocument{}
	if err := xml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse package document: %s", err)
	}

	return &pack, nil
}

func (pack *packageDocument) itemById(id string) *manifestItem {
	for i := range pack.Manifest {
		if pack.Manifest[i].Id == id {
			return &pack.Manifest[i]
		}
	}

	return nil
}

// coverHref resolves the cover image href via the legacy meta entry or the
// EPUB 3 cover-image manifest property.
func (pack *packageDocument) coverHref() string {
	for _, meta := range pack.Metadata.Metas {
		if meta.Name == "cover" {
			if item := pack.itemById(meta.Content); item != nil {
				return item.Href
			}
		}
	}

	for _, item := range pack.Manifest {
		if strings.Contains(item.Properties, "cover-image") {
			return item.Href
		}
	}

	return ""
}

// TocEntry is one node of the navigation tree, href carries no fragment.
type TocEntry struct {
	Title    string
	Href     string
	Children []*TocEntry
}

// navManifestItem finds an XHTML navigation document in the manifest.
func (pack *packageDocument) navManifestItem() *manifestItem {
	for i := range pack.Manifest {
		item := &pack.Manifest[i]
		if item.MediaType == "application/xhtml+xml" && strings.Contains(item.Href, "nav") {
			return item
		}
	}

	return nil
}

func stripFragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i]
	}

	return href
}

// parseNavDocument reads a nested ol/li/a navigation document into a TOC
// tree. Hrefs are resolved against the nav document's directory.
func parseNavDocument(data []byte, navDir string) ([]*TocEntry, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse navigation document: %s", err)
	}

	navs := doc.FindElements("//nav")
	if len(navs) == 0 {
		return nil, fmt.Errorf("navigation document has no nav element")
	}

	nav := navs[0]
	for _, candidate := range navs {
		if candidate.SelectAttrValue("epub:type", "") == "toc" {
			nav = candidate
			break
		}
	}

	list := nav.FindElement("ol")
	if list == nil {
		return nil, fmt.Errorf("navigation document has no list")
	}

	return parseNavList(list, navDir), nil
}

func parseNavList(list *etree.Element, navDir string) []*TocEntry {
	entries := []*TocEntry{}

	for _, item := range list.SelectElements("li") {
		entry := &TocEntry{}

		if anchor := item.FindElement("a"); anchor != nil {
			entry.Title = strings.TrimSpace(collectText(anchor))
			entry.Href = resolveHref(navDir, stripFragment(anchor.SelectAttrValue("href", "")))
		} else if span := item.FindElement("span"); span != nil {
			entry.Title = strings.TrimSpace(collectText(span))
		}

		if sublist := item.SelectElement("ol"); sublist != nil {
			entry.Children = parseNavList(sublist, navDir)
		}

		if entry.Title != "" || entry.Href != "" || len(entry.Children) > 0 {
			entries = append(entries, entry)
		}
	}

	return entries
}

// parseNcxDocument reads a navPoint tree into a TOC tree. Hrefs are resolved
// against the NCX document's directory.
func parseNcxDocument(data []byte, ncxDir string) ([]*TocEntry, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse NCX document: %s", err)
	}

	navMap := doc.FindElement("//navMap")
	if navMap == nil {
		return nil, fmt.Errorf("NCX document has no navMap")
	}

	return parseNavPoints(navMap, ncxDir), nil
}

func parseNavPoints(parent *etree.Element, ncxDir string) []*TocEntry {
	entries := []*TocEntry{}

	for _, point := range parent.SelectElements("navPoint") {
		entry := &TocEntry{}

		if label := point.FindElement("navLabel/text"); label != nil {
			entry.Title = strings.TrimSpace(label.Text())
		}
		if src := point.FindElement("content"); src != nil {
			entry.Href = resolveHref(ncxDir, stripFragment(src.SelectAttrValue("src", "")))
		}

		entry.Children = parseNavPoints(point, ncxDir)
		entries = append(entries, entry)
	}

	return entries
}

func collectText(el *etree.Element) string {
	builder := bytes.Buffer{}
	builder.WriteString(el.Text())
	for _, child := range el.ChildElements() {
		builder.WriteString(collectText(child))
	}

	return builder.String()
}

// resolveHref turns a document relative href into a container absolute path.
func resolveHref(dir string, href string) string {
	if href == "" {
		return ""
	}

	return path.Clean(path.Join(dir, href))
}
