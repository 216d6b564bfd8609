// Package download materializes a parsed catalog into the on-disk record
// form: metadata.json, one JSON record per volume and a shared images/
// directory.
package download

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/catalog"
	"github.com/hako-dl/hako-dl/common"
	"github.com/hako-dl/hako-dl/content"
	"github.com/hako-dl/hako-dl/network"
	"github.com/hako-dl/hako-dl/record"
)

// minCachedContentLen is the smallest content length a cached chapter may
// have before it is considered a truncated download.
const minCachedContentLen = 50

// defaultChapterDelay paces successive chapter fetches against the host.
const defaultChapterDelay = 500 * time.Millisecond

// ProgressFunc receives (done, total) after each freshly downloaded chapter.
// Cached chapters are not reported.
type ProgressFunc func(done int, total int)

// Fetcher is the slice of the network fabric the downloader needs.
type Fetcher interface {
	FetchWithRetry(targetURL string, headers map[string]string) (*network.Response, error)
	DownloadToFile(targetURL string, path string) bool
}

// Downloader turns catalog volumes into volume records under a base
// directory. Downloads are serialized and paced, never parallel.
type Downloader struct {
	novel   *catalog.Novel
	baseDir string
	fetcher Fetcher

	// ChapterDelay is the pause between chapter fetches, Sleep performs it.
	// Both are variable so tests can run without waiting.
	ChapterDelay time.Duration
	Sleep        func(time.Duration)
}

// New builds a downloader for given catalog rooted at baseDir.
func New(novel *catalog.Novel, baseDir string, fetcher Fetcher) *Downloader {
	return &Downloader{
		novel:        novel,
		baseDir:      baseDir,
		fetcher:      fetcher,
		ChapterDelay: defaultChapterDelay,
		Sleep:        time.Sleep,
	}
}

// BaseDir returns the directory records are written into.
func (d *Downloader) BaseDir() string {
	return d.baseDir
}

// CreateMetadataFile prepares the base directory, fetches the main cover and
// persists metadata.json describing every volume of the catalog.
func (d *Downloader) CreateMetadataFile() (*record.NovelRecord, error) {
	if err := common.EnsureDir(d.baseDir); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %s", d.baseDir, err)
	}
	if err := common.EnsureDir(filepath.Join(d.baseDir, "images")); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %s", err)
	}

	coverLocal := ""
	if d.novel.MainCover != "" {
		rel := "images/main_cover." + common.ImageExtFromURL(d.novel.MainCover)
		if d.fetcher.DownloadToFile(d.novel.MainCover, filepath.Join(d.baseDir, rel)) {
			coverLocal = rel
		} else {
			log.Warnf("failed to download main cover %s", d.novel.MainCover)
		}
	}

	meta := &record.NovelRecord{
		NovelName:       d.novel.Name,
		Author:          d.novel.Author,
		Tags:            d.novel.Tags,
		Summary:         d.novel.Summary,
		CoverImageLocal: coverLocal,
		URL:             d.novel.URL,
		Volumes:         []record.VolumeDescriptor{},
	}

	for i, volume := range d.novel.Volumes {
		meta.Volumes = append(meta.Volumes, record.VolumeDescriptor{
			Order:    i + 1,
			Name:     volume.Name,
			Filename: common.FormatFilename(volume.Name) + ".json",
			URL:      volume.URL,
		})
	}

	if err := meta.Save(d.baseDir); err != nil {
		return nil, err
	}

	log.Infof("metadata written for %s (%d volumes)", d.novel.Name, len(meta.Volumes))

	return meta, nil
}

// DownloadVolume materializes one volume, reusing valid cached chapters from
// a previous run. The resulting record is persisted and returned.
func (d *Downloader) DownloadVolume(volume catalog.Volume, progress ProgressFunc) (*record.VolumeRecord, error) {
	jsonPath := filepath.Join(d.baseDir, common.FormatFilename(volume.Name)+".json")
	volSlug := strings.ToLower(common.FormatFilename(volume.Name))

	cached := map[string]record.ChapterContent{}
	if existing, err := record.LoadVolumeRecord(jsonPath); err != nil {
		log.Warnf("ignoring unreadable volume record %s: %s", jsonPath, err)
	} else if existing != nil {
		for _, chapter := range existing.Chapters {
			cached[chapter.URL] = chapter
		}
	}

	type pendingChapter struct {
		index   int
		chapter catalog.Chapter
	}

	chapters := []record.ChapterContent{}
	pending := []pendingChapter{}

	for i, chapter := range volume.Chapters {
		if hit, ok := cached[chapter.URL]; ok && d.ValidateCached(&hit) {
			hit.Index = i
			chapters = append(chapters, hit)
			continue
		}

		pending = append(pending, pendingChapter{index: i, chapter: chapter})
	}

	log.Infof("volume %q: %d cached, %d to download", volume.Name, len(chapters), len(pending))

	for done, item := range pending {
		materialized := d.ProcessChapter(item.index, item.chapter, volSlug)
		if materialized != nil {
			chapters = append(chapters, *materialized)
		} else {
			log.Warnf("skipping chapter %q, no content found", item.chapter.Name)
		}

		if progress != nil {
			progress(done+1, len(pending))
		}

		if done < len(pending)-1 {
			d.Sleep(d.ChapterDelay)
		}
	}

	sort.Slice(chapters, func(a, b int) bool { return chapters[a].Index < chapters[b].Index })

	coverLocal := ""
	if volume.CoverImg != "" {
		rel := "images/vol_cover_" + volSlug + "." + common.ImageExtFromURL(volume.CoverImg)
		if d.fetcher.DownloadToFile(volume.CoverImg, filepath.Join(d.baseDir, rel)) {
			coverLocal = rel
		} else {
			log.Warnf("failed to download cover of volume %q", volume.Name)
		}
	}

	vol := &record.VolumeRecord{
		VolumeName:      volume.Name,
		VolumeURL:       volume.URL,
		CoverImageLocal: coverLocal,
		Chapters:        chapters,
	}

	if err := vol.Save(jsonPath); err != nil {
		return nil, err
	}

	return vol, nil
}

// ValidateCached reports whether a previously persisted chapter is still
// usable: content long enough and every local image present and non-empty.
func (d *Downloader) ValidateCached(chapter *record.ChapterContent) bool {
	if chapter.Content == "" || utf8.RuneCountInString(chapter.Content) < minCachedContentLen {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(chapter.Content))
	if err != nil {
		return false
	}

	valid := true
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		if !strings.HasPrefix(src, "images/") {
			return true
		}

		if !common.FileExistsNonEmpty(filepath.Join(d.baseDir, src)) {
			valid = false
			return false
		}

		return true
	})

	return valid
}

// ProcessChapter fetches one chapter page and produces its materialized form.
// Returns nil when the page has no recognizable content block or the fetch
// fails.
func (d *Downloader) ProcessChapter(index int, chapter catalog.Chapter, volSlug string) *record.ChapterContent {
	resp, err := d.fetcher.FetchWithRetry(chapter.URL, nil)
	if err != nil {
		log.Errorf("failed to fetch chapter %q: %s", chapter.Name, err)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		log.Errorf("failed to parse chapter %q: %s", chapter.Name, err)
		return nil
	}

	body := doc.Find("#chapter-content").First()
	if body.Length() == 0 {
		return nil
	}

	content.ScrubStructural(body)
	d.downloadChapterImages(body, volSlug, index)
	content.RemoveEmptyContainers(body)

	defs := content.CollectDefinitions(body, true)
	body.Find(".note-reg").Remove()

	fragment, err := body.Html()
	if err != nil {
		log.Errorf("failed to serialize chapter %q: %s", chapter.Name, err)
		return nil
	}

	slug := fmt.Sprintf("%s_ch%d", volSlug, index)
	rewritten, used := content.ConvertFootnoteMarkers(fragment, defs, slug)
	final := content.CollapseBlankLines(rewritten + content.GenerateFootnoteAsides(used, defs, slug, true))

	return &record.ChapterContent{
		Title:   chapter.Name,
		URL:     chapter.URL,
		Content: final,
		Index:   index,
	}
}

// downloadChapterImages stores every usable image of a chapter subtree under
// images/ with a deterministic name and rewrites the src to the relative
// path. Banner images and failed downloads are dropped from the tree.
func (d *Downloader) downloadChapterImages(body *goquery.Selection, volSlug string, chapterIndex int) {
	body.Find("img").Each(func(m int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" || strings.Contains(src, "chapter-banners") {
			img.Remove()
			return
		}

		name := fmt.Sprintf("%s_chap_%d_img_%d.%s", volSlug, chapterIndex, m, common.ImageExtFromURL(src))
		rel := "images/" + name

		if !d.fetcher.DownloadToFile(src, filepath.Join(d.baseDir, rel)) {
			log.Warnf("failed to download image %s", src)
			img.Remove()
			return
		}

		img.SetAttr("src", rel)
		img.RemoveAttr("style")
		img.RemoveAttr("onclick")
	})
}
