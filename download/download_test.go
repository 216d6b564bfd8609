package download

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hako-dl/hako-dl/catalog"
	"github.com/hako-dl/hako-dl/network"
	"github.com/hako-dl/hako-dl/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves canned pages and records image downloads.
type fakeFetcher struct {
	pages      map[string]string
	imageBytes []byte
	failImages map[string]bool
	downloaded []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:      map[string]string{},
		imageBytes: []byte("img-bytes"),
		failImages: map[string]bool{},
	}
}

func (f *fakeFetcher) FetchWithRetry(targetURL string, headers map[string]string) (*network.Response, error) {
	page, ok := f.pages[targetURL]
	if !ok {
		return nil, fmt.Errorf("no such page: %s", targetURL)
	}

	return &network.Response{StatusCode: 200, Status: "200 OK", Body: []byte(page)}, nil
}

func (f *fakeFetcher) DownloadToFile(targetURL string, path string) bool {
	if targetURL == "" || f.failImages[targetURL] {
		return false
	}

	f.downloaded = append(f.downloaded, targetURL)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false
	}
	if err := os.WriteFile(path, f.imageBytes, 0o644); err != nil {
		return false
	}

	return true
}

func newTestDownloader(t *testing.T, novel *catalog.Novel, fetcher *fakeFetcher) *Downloader {
	t.Helper()

	dl := New(novel, t.TempDir(), fetcher)
	dl.Sleep = func(time.Duration) {}

	return dl
}

func sampleNovel() *catalog.Novel {
	return &catalog.Novel{
		Name:      "Truyện Mẫu",
		URL:       "https://docln.net/truyen/1",
		Author:    "Bút Danh",
		Summary:   "<p>Tóm tắt</p>",
		MainCover: "https://i.hako.vip/main.png",
		Tags:      []string{"Action"},
		Volumes: []catalog.Volume{
			{
				Name:     "Tập 1",
				URL:      "https://docln.net/truyen/1/tap-1",
				CoverImg: "https://i.hako.vip/v1.jpg",
				Chapters: []catalog.Chapter{
					{Name: "Chương 1", URL: "https://docln.net/truyen/1/c1"},
					{Name: "Chương 2", URL: "https://docln.net/truyen/1/c2"},
				},
			},
		},
	}
}

func chapterPage(body string) string {
	return fmt.Sprintf(`<html><body><div id="chapter-content">%s</div></body></html>`, body)
}

func TestCreateMetadataFile(t *testing.T) {
	fetcher := newFakeFetcher()
	dl := newTestDownloader(t, sampleNovel(), fetcher)

	meta, err := dl.CreateMetadataFile()
	require.NoError(t, err)

	assert.Equal(t, "images/main_cover.png", meta.CoverImageLocal)
	require.Len(t, meta.Volumes, 1)
	assert.Equal(t, 1, meta.Volumes[0].Order)
	assert.Equal(t, "Tập_1.json", meta.Volumes[0].Filename)

	// every schema field must be present in the serialized form
	data, err := os.ReadFile(filepath.Join(dl.BaseDir(), record.MetadataFilename))
	require.NoError(t, err)

	fields := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"novelName", "author", "tags", "summary", "coverImageLocal", "url", "volumes"} {
		assert.Contains(t, fields, key)
	}
}

func TestCreateMetadataFileCoverFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failImages["https://i.hako.vip/main.png"] = true
	dl := newTestDownloader(t, sampleNovel(), fetcher)

	meta, err := dl.CreateMetadataFile()
	require.NoError(t, err)

	assert.Empty(t, meta.CoverImageLocal, "failed cover download keeps the field empty")
}

func TestProcessChapterImagesAndFootnotes(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docln.net/truyen/1/c1"] = chapterPage(
		`<p>opening [note1]</p>` +
			`<img src="https://i.hako.vip/banners/chapter-banners/x.jpg"/>` +
			`<img src="https://i.hako.vip/p1.png" style="width:100%" onclick="zoom()"/>` +
			`<img src="https://i.hako.vip/broken.jpg"/>` +
			`<div id="note1">chú thích</div>`,
	)
	fetcher.failImages["https://i.hako.vip/broken.jpg"] = true

	dl := newTestDownloader(t, sampleNovel(), fetcher)
	require.NoError(t, os.MkdirAll(filepath.Join(dl.BaseDir(), "images"), 0o755))

	chapter := dl.ProcessChapter(0, sampleNovel().Volumes[0].Chapters[0], "tập_1")
	require.NotNil(t, chapter)

	assert.Equal(t, "Chương 1", chapter.Title)
	assert.Equal(t, 0, chapter.Index)

	assert.NotContains(t, chapter.Content, "chapter-banners", "banner image must be dropped")
	assert.NotContains(t, chapter.Content, "broken.jpg", "failed image must be dropped")
	assert.NotContains(t, chapter.Content, "style=")
	assert.NotContains(t, chapter.Content, "onclick=")

	assert.Contains(t, chapter.Content, `src="images/tập_1_chap_0_img_1.png"`)
	assert.FileExists(t, filepath.Join(dl.BaseDir(), "images", "tập_1_chap_0_img_1.png"))

	assert.Contains(t, chapter.Content, `href="#tập_1_ch0_note1"`)
	assert.Contains(t, chapter.Content, `<aside id="tập_1_ch0_note1"`)
}

func TestProcessChapterMissingContent(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.pages["https://docln.net/truyen/1/c1"] = "<html><body><p>no content block</p></body></html>"

	dl := newTestDownloader(t, sampleNovel(), fetcher)

	chapter := dl.ProcessChapter(0, sampleNovel().Volumes[0].Chapters[0], "tập_1")
	assert.Nil(t, chapter)
}

func TestDownloadVolume(t *testing.T) {
	longBody := "<p>" + strings.Repeat("nội dung ", 30) + "</p>"

	fetcher := newFakeFetcher()
	fetcher.pages["https://docln.net/truyen/1/c1"] = chapterPage(longBody)
	fetcher.pages["https://docln.net/truyen/1/c2"] = chapterPage(longBody)

	novel := sampleNovel()
	dl := newTestDownloader(t, novel, fetcher)
	_, err := dl.CreateMetadataFile()
	require.NoError(t, err)

	progress := [][2]int{}
	vol, err := dl.DownloadVolume(novel.Volumes[0], func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)

	require.Len(t, vol.Chapters, 2)
	assert.Equal(t, 0, vol.Chapters[0].Index)
	assert.Equal(t, 1, vol.Chapters[1].Index)
	assert.Equal(t, "images/vol_cover_tập_1.jpg", vol.CoverImageLocal)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)

	// volume record persisted under the slug filename
	assert.FileExists(t, filepath.Join(dl.BaseDir(), "Tập_1.json"))
}

func TestDownloadVolumeReusesCache(t *testing.T) {
	longBody := "<p>" + strings.Repeat("nội dung ", 30) + "</p>"

	fetcher := newFakeFetcher()
	fetcher.pages["https://docln.net/truyen/1/c1"] = chapterPage(longBody)
	fetcher.pages["https://docln.net/truyen/1/c2"] = chapterPage(longBody)

	novel := sampleNovel()
	dl := newTestDownloader(t, novel, fetcher)
	_, err := dl.CreateMetadataFile()
	require.NoError(t, err)

	_, err = dl.DownloadVolume(novel.Volumes[0], nil)
	require.NoError(t, err)

	// swap chapter order on the landing page, cached entries must be
	// re-stamped instead of re-downloaded
	fetcher.pages = map[string]string{}
	reordered := novel.Volumes[0]
	reordered.Chapters = []catalog.Chapter{
		novel.Volumes[0].Chapters[1],
		novel.Volumes[0].Chapters[0],
	}

	vol, err := dl.DownloadVolume(reordered, nil)
	require.NoError(t, err)

	require.Len(t, vol.Chapters, 2)
	assert.Equal(t, "https://docln.net/truyen/1/c2", vol.Chapters[0].URL)
	assert.Equal(t, 0, vol.Chapters[0].Index)
	assert.Equal(t, "https://docln.net/truyen/1/c1", vol.Chapters[1].URL)
	assert.Equal(t, 1, vol.Chapters[1].Index)
}

func TestValidateCached(t *testing.T) {
	dl := newTestDownloader(t, sampleNovel(), newFakeFetcher())

	longBody := "<p>" + strings.Repeat("x", 140) + "</p>"

	assert.False(t, dl.ValidateCached(&record.ChapterContent{Content: ""}))
	assert.False(t, dl.ValidateCached(&record.ChapterContent{Content: "<p>short</p>"}))
	assert.True(t, dl.ValidateCached(&record.ChapterContent{Content: longBody}))

	// referencing a missing local image invalidates the entry
	withImage := longBody + `<img src="images/missing.jpg"/>`
	assert.False(t, dl.ValidateCached(&record.ChapterContent{Content: withImage}))

	// the same reference with the file present is fine
	require.NoError(t, os.MkdirAll(filepath.Join(dl.BaseDir(), "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dl.BaseDir(), "images", "missing.jpg"), []byte("x"), 0o644))
	assert.True(t, dl.ValidateCached(&record.ChapterContent{Content: withImage}))

	// remote images are not checked
	remote := longBody + `<img src="https://i.hako.vip/x.jpg"/>`
	assert.True(t, dl.ValidateCached(&record.ChapterContent{Content: remote}))
}
