package common

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// If given `value` is not empty, returns it. Else `defaultValue` will be returned.
func GetStrOr(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	} else {
		return value
	}
}

// GetDurationOr takes two duration value, if the first value is greater
// than or equal to zero, then this function return this value, else the second
// value will be returned.
func GetDurationOr(value, defaultValue time.Duration) time.Duration {
	if value < 0 {
		return defaultValue
	} else {
		return value
	}
}

// GetIntOr returns `value` when it is positive, else `defaultValue`.
func GetIntOr(value, defaultValue int) int {
	if value <= 0 {
		return defaultValue
	} else {
		return value
	}
}

// LogBannerMsg prints a block of message to log.
func LogBannerMsg(msgs []string, paddingLen int) {
	maxLen := 0
	for i := range msgs {
		l := len(msgs[i])
		if l > maxLen {
			maxLen = l
		}
	}

	padding := strings.Repeat(" ", paddingLen)
	stem := strings.Repeat("─", maxLen+paddingLen*2)

	log.Info("╭" + stem + "╮")
	for _, line := range msgs {
		log.Info("│" + padding + line + strings.Repeat(" ", maxLen-len(line)) + padding + " ")
	}
	log.Info("╰" + stem + "╯")
}

var filenameReplacer = strings.NewReplacer(
	"\\", "",
	"/", "",
	"*", "",
	"?", "",
	":", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// FormatFilename derives a filesystem safe name from a display name. Invalid
// path characters are removed, spaces become underscores, result is trimmed
// and truncated to 100 characters. The operation is idempotent.
func FormatFilename(name string) string {
	name = filenameReplacer.Replace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.TrimSpace(name)

	runes := []rune(name)
	if len(runes) > 100 {
		runes = runes[:100]
	}

	return string(runes)
}

// ImageExtFromURL picks an output extension for an image URL by substring
// test, falling back to jpg.
func ImageExtFromURL(src string) string {
	switch {
	case strings.Contains(src, ".png"):
		return "png"
	case strings.Contains(src, ".gif"):
		return "gif"
	case strings.Contains(src, ".webp"):
		return "webp"
	default:
		return "jpg"
	}
}

// ExtractStyleBackgroundURL reads an inline style declaration list and returns
// the URL used by its background or background-image declaration. Empty string
// is returned when no such declaration exists.
func ExtractStyleBackgroundURL(style string) string {
	parser := css.NewParser(parse.NewInputString(style), true)

	for {
		gt, _, data := parser.Next()

		switch gt {
		case css.DeclarationGrammar:
			declName := string(data)
			if declName != "background" && declName != "background-image" {
				break
			}

			for _, val := range parser.Values() {
				str := strings.TrimSpace(string(val.Data))
				if !strings.HasPrefix(str, "url(") {
					continue
				}

				str = strings.TrimPrefix(str, "url(")
				str = strings.TrimSuffix(str, ")")
				str = strings.Trim(str, "'\"")
				if str != "" {
					return str
				}
			}
		case css.ErrorGrammar:
			return ""
		}
	}
}
