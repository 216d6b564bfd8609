package common

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatFilename(t *testing.T) {
	cases := map[string]string{
		`Tập 1: Khởi đầu`:   "Tập_1_Khởi_đầu",
		`a/b\c*d?e:f"g<h>i`: "abcdefghi",
		"trailing space ":   "trailing_space_",
	}

	for input, expected := range cases {
		if got := FormatFilename(input); got != expected {
			t.Errorf("FormatFilename(%q) = %q, expected %q", input, got, expected)
		}
	}
}

func TestFormatFilenameCutsAtHundredRunes(t *testing.T) {
	long := strings.Repeat("ế", 150)

	got := FormatFilename(long)
	if utf8.RuneCountInString(got) != 100 {
		t.Errorf("expected 100 runes, got %d", utf8.RuneCountInString(got))
	}
	if !utf8.ValidString(got) {
		t.Error("cut produced invalid UTF-8")
	}
}

func TestImageExtFromURL(t *testing.T) {
	cases := map[string]string{
		"https://i.hako.vip/a/b.png?x=1": "png",
		"https://i.hako.vip/a/b.gif":     "gif",
		"https://i.hako.vip/a/b.webp":    "webp",
		"https://i.hako.vip/a/b.jpeg":    "jpg",
		"https://i.hako.vip/a/b":         "jpg",
	}

	for rawURL, expected := range cases {
		if got := ImageExtFromURL(rawURL); got != expected {
			t.Errorf("ImageExtFromURL(%q) = %q, expected %q", rawURL, got, expected)
		}
	}
}

func TestExtractStyleBackgroundURL(t *testing.T) {
	cases := map[string]string{
		`background-image: url('https://i.hako.vip/cover.jpg')`: "https://i.hako.vip/cover.jpg",
		`background: #fff url("/local/cover.png") no-repeat`:    "/local/cover.png",
		`background-image: url(https://i.hako.vip/raw.webp)`:    "https://i.hako.vip/raw.webp",
		`color: red`: "",
	}

	for style, expected := range cases {
		if got := ExtractStyleBackgroundURL(style); got != expected {
			t.Errorf("ExtractStyleBackgroundURL(%q) = %q, expected %q", style, got, expected)
		}
	}
}

func TestGetStrOr(t *testing.T) {
	if got := GetStrOr("", "fallback"); got != "fallback" {
		t.Errorf("empty value should fall back, got %q", got)
	}
	if got := GetStrOr("value", "fallback"); got != "value" {
		t.Errorf("non-empty value should win, got %q", got)
	}
}
