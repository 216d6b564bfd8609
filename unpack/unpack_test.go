package unpack

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hako-dl/hako-dl/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chapterDoc(title string, body string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>%s</title></head><body>%s</body></html>`, title, body)
}

// writeTestEpub assembles a two volume container with a nested nav, a cover
// and one referenced image.
func writeTestEpub(t *testing.T, path string) {
	t.Helper()

	longText := strings.Repeat("nội dung rất dài ", 20)

	files := map[string]string{
		"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`,
		"OEBPS/content.opf": `<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="3.0" unique-identifier="id">
  <metadata>
    <dc:title>Truyện Mẫu</dc:title>
    <dc:creator>Bút Danh</dc:creator>
    <dc:description>Tóm tắt truyện</dc:description>
    <dc:subject>Action</dc:subject>
    <dc:subject>Fantasy</dc:subject>
    <meta name="cover" content="cover-img"/>
  </metadata>
  <manifest>
    <item id="cover-img" href="images/cover.png" media-type="image/png"/>
    <item id="pic1" href="images/pic1.png" media-type="image/png"/>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="coverpage" href="text/cover.xhtml" media-type="application/xhtml+xml"/>
    <item id="c1" href="text/c1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="text/c2.xhtml" media-type="application/xhtml+xml"/>
    <item id="c3" href="text/c3.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="coverpage"/>
    <itemref idref="c1"/>
    <itemref idref="c2"/>
    <itemref idref="c3"/>
  </spine>
</package>`,
		"OEBPS/nav.xhtml": `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops"><body>
<nav epub:type="toc"><ol>
  <li><a href="text/cover.xhtml">Cover</a></li>
  <li><span>Tập 1</span><ol>
    <li><a href="text/c1.xhtml">Chương 1</a></li>
    <li><a href="text/c2.xhtml#start">Chương 2</a></li>
  </ol></li>
  <li><span>Tập 2</span><ol>
    <li><a href="text/c3.xhtml">Chương 3</a></li>
  </ol></li>
</ol></nav>
</body></html>`,
		"OEBPS/text/cover.xhtml": chapterDoc("Cover", `<img src="../images/cover.png"/>`),
		"OEBPS/text/c1.xhtml":    chapterDoc("Chương 1", fmt.Sprintf(`<p>%s</p><img src="../images/pic1.png"/>`, longText)),
		"OEBPS/text/c2.xhtml":    chapterDoc("Chương 2", fmt.Sprintf(`<p>%s</p>`, longText)),
		"OEBPS/text/c3.xhtml":    chapterDoc("Chương 3", fmt.Sprintf(`<p>%s</p><img src="../images/gone.png"/>`, longText)),
		"OEBPS/images/cover.png": "png-cover-bytes",
		"OEBPS/images/pic1.png":  "png-pic1-bytes",
	}

	buf := bytes.Buffer{}
	writer := zip.NewWriter(&buf)

	mimetype, err := writer.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(t, err)
	_, err = mimetype.Write([]byte("application/epub+zip"))
	require.NoError(t, err)

	for name, body := range files {
		entry, err := writer.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestUnpack(t *testing.T) {
	epubPath := filepath.Join(t.TempDir(), "sample.epub")
	writeTestEpub(t, epubPath)

	outputDir := t.TempDir()
	baseDir, meta, err := New(epubPath, Options{OutputDir: outputDir}).Unpack()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outputDir, "Truyện_Mẫu"), baseDir)

	assert.Equal(t, "Truyện Mẫu", meta.NovelName)
	assert.Equal(t, "Bút Danh", meta.Author)
	assert.Equal(t, "Tóm tắt truyện", meta.Summary)
	assert.Equal(t, []string{"Action", "Fantasy"}, meta.Tags)
	assert.Equal(t, "images/main_cover.png", meta.CoverImageLocal)

	coverData, err := os.ReadFile(filepath.Join(baseDir, "images", "main_cover.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-cover-bytes", string(coverData))

	require.Len(t, meta.Volumes, 2)
	assert.Equal(t, 1, meta.Volumes[0].Order)
	assert.Equal(t, "Tập 1", meta.Volumes[0].Name)
	assert.Equal(t, "Tập_1.json", meta.Volumes[0].Filename)
	assert.Equal(t, "Tập 2", meta.Volumes[1].Name)

	vol1, err := record.LoadVolumeRecord(filepath.Join(baseDir, "Tập_1.json"))
	require.NoError(t, err)
	require.NotNil(t, vol1)

	require.Len(t, vol1.Chapters, 2)
	assert.Equal(t, "Chương 1", vol1.Chapters[0].Title)
	assert.Equal(t, 0, vol1.Chapters[0].Index)
	assert.Equal(t, "Chương 2", vol1.Chapters[1].Title)
	assert.Equal(t, 1, vol1.Chapters[1].Index)

	// image pulled out of the container with the deterministic name
	assert.Contains(t, vol1.Chapters[0].Content, `src="images/tập_1_chap_0_img_0.png"`)
	picData, err := os.ReadFile(filepath.Join(baseDir, "images", "tập_1_chap_0_img_0.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-pic1-bytes", string(picData))

	vol2, err := record.LoadVolumeRecord(filepath.Join(baseDir, "Tập_2.json"))
	require.NoError(t, err)
	require.NotNil(t, vol2)

	require.Len(t, vol2.Chapters, 1)
	assert.Equal(t, "Chương 3", vol2.Chapters[0].Title)
	assert.NotContains(t, vol2.Chapters[0].Content, "gone.png", "unresolvable image must be dropped")
}

func TestUnpackSkipsAuxiliaryPages(t *testing.T) {
	epubPath := filepath.Join(t.TempDir(), "sample.epub")
	writeTestEpub(t, epubPath)

	baseDir, _, err := New(epubPath, Options{OutputDir: t.TempDir()}).Unpack()
	require.NoError(t, err)

	// the short cover page sits outside every volume anyway, but must also
	// not produce a record of its own
	matches, err := filepath.Glob(filepath.Join(baseDir, "*.json"))
	require.NoError(t, err)

	names := []string{}
	for _, match := range matches {
		names = append(names, filepath.Base(match))
	}

	assert.ElementsMatch(t, []string{"metadata.json", "Tập_1.json", "Tập_2.json"}, names)
}

func TestUnpackCleanVolumeName(t *testing.T) {
	epubPath := filepath.Join(t.TempDir(), "sample.epub")
	writeTestEpub(t, epubPath)

	opts := Options{
		OutputDir: t.TempDir(),
		CleanVolumeName: func(name string) string {
			return strings.TrimPrefix(name, "Tập ")
		},
	}

	_, meta, err := New(epubPath, opts).Unpack()
	require.NoError(t, err)

	require.Len(t, meta.Volumes, 2)
	assert.Equal(t, "1", meta.Volumes[0].Name)
	assert.Equal(t, "2", meta.Volumes[1].Name)
}
