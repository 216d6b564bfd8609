// Package unpack converts an existing EPUB container back into the on-disk
// record form used by the rest of the pipeline.
package unpack

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/common"
	"github.com/hako-dl/hako-dl/content"
	"github.com/hako-dl/hako-dl/record"
)

// Options controls unpacking.
type Options struct {
	// OutputDir is the directory the per-novel base directory is created in.
	OutputDir string
	// CleanVolumeName optionally normalizes volume titles taken from the TOC.
	CleanVolumeName func(string) string
}

// Unpackager extracts one container into records.
type Unpackager struct {
	epubPath string
	opts     Options

	entries map[string]*zip.File
	opfDir  string
	pack    *packageDocument
}

// New prepares an unpackager for given container file.
func New(epubPath string, opts Options) *Unpackager {
	if opts.OutputDir == "" {
		opts.OutputDir = "data"
	}

	return &Unpackager{
		epubPath: epubPath,
		opts:     opts,
	}
}

// volumeDef is one volume derived from the navigation tree before its
// chapters are materialized.
type volumeDef struct {
	name  string
	hrefs []string
}

// Unpack reads the container and persists the canonical record form. Returns
// the base directory the records were written into.
func (u *Unpackager) Unpack() (string, *record.NovelRecord, error) {
	reader, err := zip.OpenReader(u.epubPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open container %s: %s", u.epubPath, err)
	}
	defer reader.Close()

	u.entries = map[string]*zip.File{}
	for _, file := range reader.File {
		u.entries[path.Clean(file.Name)] = file
	}

	containerData, err := u.readEntry(containerDocumentPath)
	if err != nil {
		return "", nil, err
	}

	opfPath, err := parsePackageLocation(containerData)
	if err != nil {
		return "", nil, err
	}

	u.opfDir = path.Dir(opfPath)
	if u.opfDir == "." {
		u.opfDir = ""
	}

	opfData, err := u.readEntry(opfPath)
	if err != nil {
		return "", nil, err
	}

	u.pack, err = parsePackageDocument(opfData)
	if err != nil {
		return "", nil, err
	}

	title := strings.TrimSpace(u.pack.Metadata.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(u.epubPath), filepath.Ext(u.epubPath))
	}

	author := strings.TrimSpace(u.pack.Metadata.Creator)
	if author == "" {
		author = "Unknown"
	}

	baseDir := filepath.Join(u.opts.OutputDir, common.FormatFilename(title))
	if err = common.EnsureDir(filepath.Join(baseDir, "images")); err != nil {
		return "", nil, fmt.Errorf("failed to create output directory: %s", err)
	}

	coverLocal := u.extractCover(baseDir)

	toc := u.parseToc()
	titleOf := map[string]string{}
	collectTitles(toc, titleOf)

	volumes := u.buildVolumeDefinitions(toc, title)

	meta := &record.NovelRecord{
		NovelName:       title,
		Author:          author,
		Tags:            append([]string{}, u.pack.Metadata.Subjects...),
		Summary:         strings.TrimSpace(u.pack.Metadata.Description),
		CoverImageLocal: coverLocal,
		URL:             "",
		Volumes:         []record.VolumeDescriptor{},
	}

	for vi, def := range volumes {
		vol := u.materializeVolume(def, titleOf, baseDir)

		filename := common.FormatFilename(def.name) + ".json"
		if err = vol.Save(filepath.Join(baseDir, filename)); err != nil {
			return "", nil, err
		}

		meta.Volumes = append(meta.Volumes, record.VolumeDescriptor{
			Order:    vi + 1,
			Name:     def.name,
			Filename: filename,
			URL:      "",
		})

		log.Infof("extracted volume %q (%d chapters)", def.name, len(vol.Chapters))
	}

	if err = meta.Save(baseDir); err != nil {
		return "", nil, err
	}

	return baseDir, meta, nil
}

func (u *Unpackager) readEntry(name string) ([]byte, error) {
	file, ok := u.entries[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("container has no entry %s", name)
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %s", name, err)
	}
	defer src.Close()

	buf := bytes.Buffer{}
	if _, err = buf.ReadFrom(src); err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %s", name, err)
	}

	return buf.Bytes(), nil
}

func (u *Unpackager) resolveOpfHref(href string) string {
	return resolveHref(u.opfDir, href)
}

// extractCover saves the declared cover image as images/main_cover.<ext> and
// returns the relative path, empty when absent.
func (u *Unpackager) extractCover(baseDir string) string {
	href := u.pack.coverHref()
	if href == "" {
		return ""
	}

	data, err := u.readEntry(u.resolveOpfHref(href))
	if err != nil {
		log.Warnf("cover image %s is missing from container", href)
		return ""
	}

	ext := strings.TrimPrefix(path.Ext(href), ".")
	if ext == "" {
		ext = "jpg"
	}

	rel := "images/main_cover." + ext
	if err = common.WriteFileAtomic(filepath.Join(baseDir, rel), data); err != nil {
		log.Errorf("failed to save cover image: %s", err)
		return ""
	}

	return rel
}

// parseToc locates and parses the navigation document, preferring an EPUB 3
// nav over the spine's NCX reference.
func (u *Unpackager) parseToc() []*TocEntry {
	if item := u.pack.navManifestItem(); item != nil {
		href := u.resolveOpfHref(item.Href)
		if data, err := u.readEntry(href); err == nil {
			if entries, err := parseNavDocument(data, path.Dir(href)); err == nil {
				return entries
			} else {
				log.Warnf("%s", err)
			}
		}
	}

	if u.pack.Spine.Toc != "" {
		if item := u.pack.itemById(u.pack.Spine.Toc); item != nil {
			href := u.resolveOpfHref(item.Href)
			if data, err := u.readEntry(href); err == nil {
				if entries, err := parseNcxDocument(data, path.Dir(href)); err == nil {
					return entries
				} else {
					log.Warnf("%s", err)
				}
			}
		}
	}

	return nil
}

func collectTitles(entries []*TocEntry, titleOf map[string]string) {
	for _, entry := range entries {
		if entry.Href != "" {
			if _, ok := titleOf[entry.Href]; !ok {
				titleOf[entry.Href] = entry.Title
			}
		}

		collectTitles(entry.Children, titleOf)
	}
}

// spineDocuments lists the container paths of every XHTML spine item in
// reading order.
func (u *Unpackager) spineDocuments() []string {
	hrefs := []string{}
	for _, itemref := range u.pack.Spine.Items {
		item := u.pack.itemById(itemref.IdRef)
		if item == nil || item.MediaType != "application/xhtml+xml" {
			continue
		}

		hrefs = append(hrefs, u.resolveOpfHref(item.Href))
	}

	return hrefs
}

// buildVolumeDefinitions derives volumes from the TOC shape: nested entries
// become one volume each, a flat TOC becomes a single volume named after the
// novel, and an unusable TOC falls back to the whole spine.
func (u *Unpackager) buildVolumeDefinitions(toc []*TocEntry, novelTitle string) []volumeDef {
	defs := []volumeDef{}

	nested := false
	for _, top := range toc {
		if len(top.Children) > 0 {
			nested = true
			break
		}
	}

	if nested {
		for _, top := range toc {
			if len(top.Children) == 0 {
				continue
			}

			name := top.Title
			if u.opts.CleanVolumeName != nil {
				if cleaned := u.opts.CleanVolumeName(name); cleaned != "" {
					name = cleaned
				}
			}

			defs = append(defs, volumeDef{
				name:  name,
				hrefs: entryHrefs(top.Children),
			})
		}
	} else if len(toc) > 0 {
		defs = append(defs, volumeDef{
			name:  novelTitle,
			hrefs: entryHrefs(toc),
		})
	}

	usable := false
	for _, def := range defs {
		if len(def.hrefs) > 0 {
			usable = true
			break
		}
	}

	if !usable {
		defs = []volumeDef{{
			name:  novelTitle,
			hrefs: u.spineDocuments(),
		}}
	}

	return defs
}

func entryHrefs(entries []*TocEntry) []string {
	seen := map[string]bool{}
	hrefs := []string{}

	for _, entry := range entries {
		if entry.Href != "" && !seen[entry.Href] {
			seen[entry.Href] = true
			hrefs = append(hrefs, entry.Href)
		}

		for _, href := range entryHrefs(entry.Children) {
			if !seen[href] {
				seen[href] = true
				hrefs = append(hrefs, href)
			}
		}
	}

	return hrefs
}

// materializeVolume turns one volume definition into a persisted record
// shape: spine ordered chapters with extracted images and rewritten
// footnotes.
func (u *Unpackager) materializeVolume(def volumeDef, titleOf map[string]string, baseDir string) *record.VolumeRecord {
	wanted := map[string]bool{}
	for _, href := range def.hrefs {
		wanted[href] = true
	}

	ordered := []string{}
	for _, href := range u.spineDocuments() {
		if wanted[href] {
			ordered = append(ordered, href)
		}
	}
	if len(ordered) == 0 {
		ordered = def.hrefs
	}

	volSlug := strings.ToLower(common.FormatFilename(def.name))
	chapters := []record.ChapterContent{}

	for i, href := range ordered {
		chapter := u.materializeChapter(href, i, volSlug, titleOf, baseDir)
		if chapter != nil {
			chapters = append(chapters, *chapter)
		}
	}

	for i := range chapters {
		chapters[i].Index = i
	}

	return &record.VolumeRecord{
		VolumeName:      def.name,
		VolumeURL:       "",
		CoverImageLocal: "",
		Chapters:        chapters,
	}
}

var auxiliaryTitleWords = []string{"toc", "contents", "mục lục"}

// materializeChapter reads one document from the container and produces its
// record form, or nil when the document is missing or recognizably auxiliary
// (cover page, table of contents).
func (u *Unpackager) materializeChapter(href string, index int, volSlug string, titleOf map[string]string, baseDir string) *record.ChapterContent {
	data, err := u.readEntry(href)
	if err != nil {
		log.Warnf("%s", err)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		log.Warnf("failed to parse %s: %s", href, err)
		return nil
	}

	title := titleOf[href]
	if title == "" {
		title = fmt.Sprintf("Chapter %d", index+1)
	}

	textLen := utf8.RuneCountInString(strings.TrimSpace(doc.Text()))
	lowerTitle := strings.ToLower(title)

	if textLen < 100 && strings.Contains(lowerTitle, "cover") {
		return nil
	}
	if textLen < 50 {
		for _, word := range auxiliaryTitleWords {
			if strings.Contains(lowerTitle, word) {
				return nil
			}
		}
	}

	u.extractChapterImages(doc, href, index, volSlug, baseDir)

	body := doc.Find("body").First()
	fragment := ""
	if body.Length() > 0 {
		fragment, _ = body.Html()
	} else {
		fragment, _ = doc.Html()
	}

	slug := fmt.Sprintf("%s_chap_%d", volSlug, index)
	fragment = content.ProcessFootnotes(fragment, slug)
	fragment = content.CleanHTML(fragment)

	return &record.ChapterContent{
		Title:   title,
		URL:     "",
		Content: fragment,
		Index:   index,
	}
}

// extractChapterImages saves every image of a chapter document under the
// base images/ directory with deterministic names and rewrites the srcs.
// Images whose bytes cannot be located in the container are dropped.
func (u *Unpackager) extractChapterImages(doc *goquery.Document, chapterHref string, chapterIndex int, volSlug string, baseDir string) {
	chapterDir := path.Dir(chapterHref)

	doc.Find("img").Each(func(m int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" {
			img.Remove()
			return
		}

		data := u.locateImage(resolveHref(chapterDir, src))
		if data == nil {
			img.Remove()
			return
		}

		ext := strings.TrimPrefix(path.Ext(src), ".")
		if ext == "" {
			ext = "jpg"
		}

		rel := fmt.Sprintf("images/%s_chap_%d_img_%d.%s", volSlug, chapterIndex, m, ext)
		if err := common.WriteFileAtomic(filepath.Join(baseDir, rel), data); err != nil {
			log.Errorf("failed to save image %s: %s", rel, err)
			img.Remove()
			return
		}

		img.SetAttr("src", rel)
	})
}

// locateImage finds image bytes by resolved path, by OPF relative path, and
// finally by basename against the manifest's image items.
func (u *Unpackager) locateImage(resolved string) []byte {
	if data, err := u.readEntry(resolveHref(u.opfDir, resolved)); err == nil {
		return data
	}

	if data, err := u.readEntry(resolved); err == nil {
		return data
	}

	base := path.Base(resolved)
	for _, item := range u.pack.Manifest {
		if !strings.HasPrefix(item.MediaType, "image/") {
			continue
		}

		if path.Base(item.Href) == base {
			if data, err := u.readEntry(u.resolveOpfHref(item.Href)); err == nil {
				return data
			}
		}
	}

	return nil
}
