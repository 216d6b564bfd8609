package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	novel := &Novel{
		Name:      "Tên truyện",
		URL:       "https://docln.net/truyen/123",
		Author:    "Tác giả A",
		Summary:   "<p>Tóm tắt</p>",
		MainCover: "https://i.hako.vip/cover.jpg",
		Tags:      []string{"Action", "Fantasy"},
		Volumes: []Volume{
			{
				URL:      "https://docln.net/truyen/123/tap-1",
				Name:     "Tập 1",
				CoverImg: "https://i.hako.vip/vol1.jpg",
				Chapters: []Chapter{
					{Name: "Chương 1", URL: "https://docln.net/truyen/123/chuong-1"},
					{Name: "Chương 2", URL: "https://docln.net/truyen/123/chuong-2"},
				},
			},
		},
	}

	data, err := novel.Serialize()
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, novel, decoded)
}

func TestDeserializeRequiredFields(t *testing.T) {
	_, err := Deserialize([]byte(`{"url": "https://docln.net/x"}`))
	assert.ErrorContains(t, err, "name")

	_, err = Deserialize([]byte(`{"name": "x"}`))
	assert.ErrorContains(t, err, "url")

	_, err = Deserialize([]byte(`{"name": 5, "url": "https://docln.net/x"}`))
	assert.ErrorContains(t, err, "must be a string")

	_, err = Deserialize([]byte(`not json`))
	assert.Error(t, err)
}

func TestDeserializeDefaults(t *testing.T) {
	novel, err := Deserialize([]byte(`{"name": "x", "url": "https://docln.net/x"}`))
	require.NoError(t, err)

	assert.Empty(t, novel.Author)
	assert.NotNil(t, novel.Tags)
	assert.NotNil(t, novel.Volumes)
	assert.Len(t, novel.Volumes, 0)
}

const landingPage = `<!DOCTYPE html>
<html><body>
<div class="series-cover">
	<div class="content img-in-ratio" style="background-image: url('https://i.hako.vip/covers/main.jpg')"></div>
</div>
<span class="series-name"> Truyện Mẫu </span>
<div class="series-information">
	<div class="info-item"><span class="info-name">Tình trạng:</span><span class="info-value">Đang dịch</span></div>
	<div class="info-item"><span class="info-name">Tác giả:</span><span class="info-value"> Bút Danh </span></div>
</div>
<div class="series-gernes">
	<a href="/the-loai/action">Action</a>
	<a href="/the-loai/action">Action</a>
	<a href="/the-loai/fantasy">Fantasy</a>
</div>
<div class="summary-content">
	<p>Giới thiệu truyện.</p>
	<span class="see-more">Xem thêm</span>
</div>
<section class="volume-list">
	<span class="sect-title"> Tập 1 </span>
	<div class="volume-cover">
		<a href="/truyen/1/tap-1"><div class="content img-in-ratio" style="background-image: url('https://i.hako.vip/covers/v1.jpg')"></div></a>
	</div>
	<ul class="list-chapters">
		<li><a href="/truyen/1/chuong-1"> Chương 1 </a></li>
		<li><a href="//ln.hako.vn/truyen/1/chuong-2">Chương 2</a></li>
		<li><a href="https://docln.net/truyen/1/chuong-3">Chương 3</a></li>
	</ul>
</section>
<section class="volume-list">
	<ul class="list-chapters">
		<li><a href="/truyen/1/ngoai-truyen">Ngoại truyện</a></li>
	</ul>
</section>
</body></html>`

func TestParseHTML(t *testing.T) {
	parser := NewParser(nil, nil)

	novel, err := parser.ParseHTML([]byte(landingPage), "https://docln.net/truyen/1")
	require.NoError(t, err)

	assert.Equal(t, "Truyện Mẫu", novel.Name)
	assert.Equal(t, "Bút Danh", novel.Author)
	assert.Equal(t, "https://i.hako.vip/covers/main.jpg", novel.MainCover)
	assert.Equal(t, []string{"Action", "Fantasy"}, novel.Tags, "tags keep order, duplicates dropped")
	assert.Contains(t, novel.Summary, "Giới thiệu truyện.")
	assert.NotContains(t, novel.Summary, "Xem thêm")

	require.Len(t, novel.Volumes, 2)

	vol := novel.Volumes[0]
	assert.Equal(t, "Tập 1", vol.Name)
	assert.Equal(t, "https://docln.net/truyen/1/tap-1", vol.URL)
	assert.Equal(t, "https://i.hako.vip/covers/v1.jpg", vol.CoverImg)

	require.Len(t, vol.Chapters, 3)
	assert.Equal(t, Chapter{Name: "Chương 1", URL: "https://docln.net/truyen/1/chuong-1"}, vol.Chapters[0])
	assert.Equal(t, "https://ln.hako.vn/truyen/1/chuong-2", vol.Chapters[1].URL)
	assert.Equal(t, "https://docln.net/truyen/1/chuong-3", vol.Chapters[2].URL)

	assert.Equal(t, "Unknown Volume", novel.Volumes[1].Name)
}

func TestParseHTMLMissingEverything(t *testing.T) {
	parser := NewParser(nil, nil)

	novel, err := parser.ParseHTML([]byte("<html><body></body></html>"), "https://docln.net/truyen/1")
	require.NoError(t, err)

	assert.Equal(t, "Unknown", novel.Name)
	assert.Empty(t, novel.Volumes)
	assert.Empty(t, novel.Tags)
}

func TestValidateURL(t *testing.T) {
	parser := NewParser(nil, nil)

	assert.NoError(t, parser.ValidateURL("https://docln.net/truyen/1"))
	assert.NoError(t, parser.ValidateURL("https://ln.hako.vn/truyen/1"))
	assert.NoError(t, parser.ValidateURL("http://sub.docln.sbs/truyen/1"))

	err := parser.ValidateURL("https://example.com/truyen/1")
	invalidDomain := &InvalidDomainError{}
	require.ErrorAs(t, err, &invalidDomain)
	assert.Equal(t, "example.com", invalidDomain.Host)

	assert.Error(t, parser.ValidateURL("ftp://docln.net/truyen/1"))
	assert.Error(t, parser.ValidateURL("docln.net/truyen/1"))
}
