// Package pack assembles the on-disk record form of a novel into EPUB
// containers, either one merged book or one book per volume.
package pack

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/go-shiori/go-epub"
	"github.com/hako-dl/hako-dl/common"
	"github.com/hako-dl/hako-dl/content"
	"github.com/hako-dl/hako-dl/record"
	"github.com/vincent-petithory/dataurl"
)

const bookLanguage = "vi"

const stylesheet = `
body { margin: 0; padding: 5px; text-align: justify; line-height: 1.4em; font-family: serif; }
h1, h2, h3 { text-align: center; margin: 1em 0; font-weight: bold; }
img { display: block; margin: 10px auto; max-width: 100%; height: auto; }
p { margin-bottom: 1em; text-indent: 1em; }
.center { text-align: center; }
nav#toc ol { list-style-type: none; padding-left: 0; }
nav#toc > ol > li { margin-top: 1em; font-weight: bold; }
nav#toc > ol > li > ol { list-style-type: none; padding-left: 1.5em; font-weight: normal; }
nav#toc > ol > li > ol > li { margin-top: 0.5em; }
nav#toc a { text-decoration: none; color: inherit; }
nav#toc a:hover { text-decoration: underline; color: blue; }
a.footnote-link { vertical-align: super; font-size: 0.75em; text-decoration: none; color: #007bff; margin-left: 2px; }
aside.footnote-content { margin-top: 1em; padding: 0.5em; border-top: 1px solid #ccc; font-size: 0.9em; color: #333; background-color: #f9f9f9; display: block; }
aside.footnote-content p { margin: 0; text-indent: 0; }
aside.footnote-content div.note-header { font-weight: bold; margin-bottom: 0.5em; color: #555; }
`

// Options controls container assembly.
type Options struct {
	// CompressImages transcodes every embedded image to JPEG quality 75.
	CompressImages bool
	// OutputDir is the root the finished containers are written under.
	OutputDir string
}

// ProcessedImage is the memoized result of preparing one local image for
// embedding.
type ProcessedImage struct {
	Data []byte
	MIME string
	// Rel is the embed path, the source path with its extension swapped to
	// .jpg when compression changed the format.
	Rel string
}

// Builder packages the records found in a base directory.
type Builder struct {
	baseDir string
	opts    Options
	meta    *record.NovelRecord

	imageCache map[string]*ProcessedImage
}

// NewBuilder loads metadata.json from baseDir and prepares a builder.
func NewBuilder(baseDir string, opts Options) (*Builder, error) {
	meta, err := record.LoadNovelRecord(baseDir)
	if err != nil {
		return nil, err
	}

	if opts.OutputDir == "" {
		opts.OutputDir = "result"
	}

	return &Builder{
		baseDir:    baseDir,
		opts:       opts,
		meta:       meta,
		imageCache: map[string]*ProcessedImage{},
	}, nil
}

// Metadata exposes the loaded novel record.
func (b *Builder) Metadata() *record.NovelRecord {
	return b.meta
}

// ProcessImage loads a local image for embedding, transcoding it when
// compression is enabled. Results are memoized per relative path. A missing
// or empty file yields nil.
func (b *Builder) ProcessImage(rel string) *ProcessedImage {
	if rel == "" {
		return nil
	}

	if cached, ok := b.imageCache[rel]; ok {
		return cached
	}

	fullPath := filepath.Join(b.baseDir, rel)
	if !common.FileExistsNonEmpty(fullPath) {
		b.imageCache[rel] = nil
		return nil
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		log.Errorf("failed to read image %s: %s", rel, err)
		b.imageCache[rel] = nil
		return nil
	}

	result := &ProcessedImage{
		Data: data,
		MIME: common.MediaTypeFromExt(rel),
		Rel:  rel,
	}

	if b.opts.CompressImages {
		if jpg, err := common.TranscodeBytesToJpeg(data); err == nil {
			result.Data = jpg
			result.MIME = "image/jpeg"
			result.Rel = common.ReplaceFileExt(rel, ".jpg")
		} else {
			log.Warnf("keeping original bytes for %s, transcode failed: %s", rel, err)
		}
	}

	b.imageCache[rel] = result

	return result
}

// bookState is the per-container assembly context.
type bookState struct {
	book    *epub.Epub
	cssPath string
	// images maps source-relative path to the internal container path.
	images map[string]string
}

func (b *Builder) newBook(title string) (*bookState, error) {
	book, err := epub.NewEpub(title)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %s", err)
	}

	book.SetLang(bookLanguage)
	book.SetAuthor(b.meta.Author)
	if b.meta.Summary != "" {
		book.SetDescription(b.meta.Summary)
	}

	cssPath, err := book.AddCSS(dataurl.New([]byte(stylesheet), "text/css").String(), "style.css")
	if err != nil {
		return nil, fmt.Errorf("failed to add stylesheet: %s", err)
	}

	return &bookState{
		book:    book,
		cssPath: cssPath,
		images:  map[string]string{},
	}, nil
}

// embedImage registers a processed image with the container once and returns
// its internal path.
func (state *bookState) embedImage(b *Builder, rel string) (string, bool) {
	if internal, ok := state.images[rel]; ok {
		return internal, internal != ""
	}

	processed := b.ProcessImage(rel)
	if processed == nil {
		state.images[rel] = ""
		return "", false
	}

	name := strings.NewReplacer("/", "_", "\\", "_").Replace(processed.Rel)
	internal, err := state.book.AddImage(dataurl.New(processed.Data, processed.MIME).String(), name)
	if err != nil {
		log.Errorf("failed to embed image %s: %s", rel, err)
		state.images[rel] = ""
		return "", false
	}

	state.images[rel] = internal

	return internal, true
}

// rewriteChapterImages swaps every local img src of a chapter body for the
// container internal path, dropping images that cannot be embedded.
func (state *bookState) rewriteChapterImages(b *Builder, body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" {
			img.Remove()
			return
		}

		internal, ok := state.embedImage(b, src)
		if !ok {
			img.Remove()
			return
		}

		img.SetAttr("src", internal)
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return body
	}

	return out
}

// introSection renders the title page and returns its XHTML body plus the
// internal cover path when a cover was embedded.
func (state *bookState) introSection(b *Builder, subtitle string) (string, string) {
	coverHTML := "<hr/>"
	coverInternal := ""
	if b.meta.CoverImageLocal != "" {
		if internal, ok := state.embedImage(b, b.meta.CoverImageLocal); ok {
			coverInternal = internal
			coverHTML = fmt.Sprintf(`<div style="text-align:center; margin: 2em 0; page-break-after: always; break-after: page;"><img src="%s" alt="Cover"/></div>`, internal)
		}
	}

	tagsHTML := ""
	if len(b.meta.Tags) > 0 {
		tagsHTML = fmt.Sprintf("<p><b>Thể loại:</b> %s</p>", html.EscapeString(strings.Join(b.meta.Tags, ", ")))
	}

	body := fmt.Sprintf(`<div style="text-align: center; margin-top: 5%%;">
<h1>%s</h1>
<h3 style="margin-bottom: 0.5em;">%s</h3>
<p><b>Tác giả:</b> %s</p>
%s
%s
<div style="text-align: justify;">
%s
</div>
</div>`,
		html.EscapeString(b.meta.NovelName),
		html.EscapeString(subtitle),
		html.EscapeString(b.meta.Author),
		tagsHTML,
		coverHTML,
		content.SanitizeXHTML(b.meta.Summary),
	)

	return body, coverInternal
}

// addVolume appends one volume to the container: a separator section followed
// by its chapters as sub sections.
func (state *bookState) addVolume(b *Builder, vol *record.VolumeRecord, volIndex int) error {
	separator := ""
	if vol.CoverImageLocal != "" {
		if internal, ok := state.embedImage(b, vol.CoverImageLocal); ok {
			separator = fmt.Sprintf(`<img src="%s" alt="Vol Cover" style="max-height: 50vh;"/>`, internal)
		}
	}
	separator += fmt.Sprintf("<h1>%s</h1>", html.EscapeString(vol.VolumeName))

	sepBody := fmt.Sprintf(`<div style="text-align: center; margin-top: 30vh;">
%s
</div>`, separator)

	sepName := fmt.Sprintf("vol_%d.xhtml", volIndex)
	sepPath, err := state.book.AddSection(sepBody, vol.VolumeName, sepName, state.cssPath)
	if err != nil {
		return fmt.Errorf("failed to add volume section %q: %s", vol.VolumeName, err)
	}

	for _, chapter := range vol.Chapters {
		body := state.rewriteChapterImages(b, chapter.Content)
		body = fmt.Sprintf("<h2>%s</h2>%s", html.EscapeString(chapter.Title), content.SanitizeXHTML(body))

		name := fmt.Sprintf("v%d_c%d.xhtml", volIndex, chapter.Index)
		if _, err := state.book.AddSubSection(sepPath, body, chapter.Title, name, state.cssPath); err != nil {
			return fmt.Errorf("failed to add chapter %q: %s", chapter.Title, err)
		}
	}

	return nil
}

// BuildMerged packages the listed volume records into one container, ordered
// by the metadata volume order. Returns the output path.
func (b *Builder) BuildMerged(volumeFiles []string) (string, error) {
	orderOf := func(filename string) int {
		if desc := b.meta.DescriptorByFilename(filename); desc != nil {
			return desc.Order
		}
		return 1 << 30
	}
	sorted := append([]string{}, volumeFiles...)
	sort.SliceStable(sorted, func(a, c int) bool { return orderOf(sorted[a]) < orderOf(sorted[c]) })

	state, err := b.newBook(b.meta.NovelName)
	if err != nil {
		return "", err
	}

	intro, coverInternal := state.introSection(b, "Toàn tập")
	if coverInternal != "" {
		state.book.SetCover(coverInternal, "")
	}
	if _, err = state.book.AddSection(intro, "Giới thiệu", "intro.xhtml", state.cssPath); err != nil {
		return "", fmt.Errorf("failed to add intro section: %s", err)
	}

	for i, filename := range sorted {
		vol, err := record.LoadVolumeRecord(filepath.Join(b.baseDir, filename))
		if err != nil {
			return "", err
		}
		if vol == nil {
			log.Warnf("volume record %s is missing, skipping", filename)
			continue
		}

		log.Infof("merging %s (%d chapters)", filename, len(vol.Chapters))
		if err = state.addVolume(b, vol, i); err != nil {
			return "", err
		}
	}

	filename := common.FormatFilename(b.meta.NovelName+" Full") + ".epub"
	outPath, err := b.outputPath(filename, true)
	if err != nil {
		return "", err
	}

	if err = b.write(state, outPath); err != nil {
		return "", err
	}

	log.Infof("created merged container: %s", outPath)

	return outPath, nil
}

// BuildVolume packages a single volume record into its own container and
// returns the output path.
func (b *Builder) BuildVolume(volumeFile string) (string, error) {
	vol, err := record.LoadVolumeRecord(filepath.Join(b.baseDir, volumeFile))
	if err != nil {
		return "", err
	}
	if vol == nil {
		return "", fmt.Errorf("volume record %s does not exist", volumeFile)
	}

	title := fmt.Sprintf("%s - %s", vol.VolumeName, b.meta.NovelName)

	state, err := b.newBook(title)
	if err != nil {
		return "", err
	}

	intro, coverInternal := state.introSection(b, vol.VolumeName)
	if coverInternal != "" {
		state.book.SetCover(coverInternal, "")
	}
	if _, err = state.book.AddSection(intro, "Giới thiệu", "intro.xhtml", state.cssPath); err != nil {
		return "", fmt.Errorf("failed to add intro section: %s", err)
	}

	if err = state.addVolume(b, vol, 0); err != nil {
		return "", err
	}

	filename := common.FormatFilename(title) + ".epub"
	outPath, err := b.outputPath(filename, false)
	if err != nil {
		return "", err
	}

	if err = b.write(state, outPath); err != nil {
		return "", err
	}

	log.Infof("created container: %s", outPath)

	return outPath, nil
}

func (b *Builder) write(state *bookState, outPath string) error {
	if err := state.book.Write(outPath); err != nil {
		return fmt.Errorf("failed to write container %s: %s", outPath, err)
	}

	if len(b.meta.Tags) > 0 {
		if err := injectSubjects(outPath, b.meta.Tags); err != nil {
			log.Warnf("failed to record tags in %s: %s", outPath, err)
		}
	}

	return nil
}

// outputPath applies the placement rules: a merged book with original images
// sits directly under the output root, everything else goes in a per-novel
// directory split by compression mode.
func (b *Builder) outputPath(filename string, merged bool) (string, error) {
	if merged && !b.opts.CompressImages {
		if err := common.EnsureDir(b.opts.OutputDir); err != nil {
			return "", fmt.Errorf("failed to create output directory: %s", err)
		}

		return filepath.Join(b.opts.OutputDir, filename), nil
	}

	subfolder := "original"
	if b.opts.CompressImages {
		subfolder = "compressed"
	}

	targetDir := filepath.Join(b.opts.OutputDir, common.FormatFilename(b.meta.NovelName), subfolder)
	if err := common.EnsureDir(targetDir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %s", err)
	}

	return filepath.Join(targetDir, filename), nil
}
