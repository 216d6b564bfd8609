package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/hako-dl/hako-dl/common"
	"github.com/hako-dl/hako-dl/network"
)

var ErrParseFailed = errors.New("catalog parse failed")

// InvalidDomainError marks URLs whose host is not one of the interchangeable
// front-end hosts.
type InvalidDomainError struct {
	Host    string
	Domains []string
}

func (err *InvalidDomainError) Error() string {
	return fmt.Sprintf("Invalid domain: %s. Must be a Hako domain (%s)", err.Host, strings.Join(err.Domains, ", "))
}

// Fetcher is the slice of the network fabric the parser needs.
type Fetcher interface {
	FetchWithRetry(targetURL string, headers map[string]string) (*network.Response, error)
}

// Parser turns a novel landing page into a catalog record.
type Parser struct {
	fetcher Fetcher
	domains []string
}

// NewParser builds a parser over given fetcher. `domains` is the primary host
// list used for URL validation, defaults to network.DefaultDomains.
func NewParser(fetcher Fetcher, domains []string) *Parser {
	if domains == nil {
		domains = network.DefaultDomains
	}

	return &Parser{
		fetcher: fetcher,
		domains: domains,
	}
}

// ValidateURL checks that the candidate URL is http(s) and lives on one of the
// primary hosts.
func (parser *Parser) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: %s", network.ErrInvalidURL, rawURL)
	}

	host := parsed.Hostname()
	for _, domain := range parser.domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}

	return &InvalidDomainError{Host: host, Domains: parser.domains}
}

// Parse fetches the landing page and extracts its catalog record.
func (parser *Parser) Parse(rawURL string) (*Novel, error) {
	if err := parser.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	resp, err := parser.fetcher.FetchWithRetry(rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParseFailed, err)
	}

	novel, err := parser.ParseHTML(resp.Body, rawURL)
	if err != nil {
		return nil, err
	}

	log.Infof("parsed catalog: %s (%d volumes, %d tags)", novel.Name, len(novel.Volumes), len(novel.Tags))

	return novel, nil
}

// ParseHTML extracts the catalog record from landing page markup. `baseURL`
// is the URL the user supplied, relative links are expanded against its
// canonical primary host.
func (parser *Parser) ParseHTML(page []byte, baseURL string) (*Novel, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParseFailed, err)
	}

	novel := &Novel{
		URL:     baseURL,
		Tags:    []string{},
		Volumes: []Volume{},
	}

	novel.Name = common.GetStrOr(strings.TrimSpace(doc.Find("span.series-name").First().Text()), "Unknown")

	doc.Find("div.series-information div.info-item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		label := item.Find("span.info-name").Text()
		if !strings.Contains(label, "Tác giả") {
			return true
		}

		novel.Author = strings.TrimSpace(item.Find("span.info-value").Text())
		return false
	})

	if summary := doc.Find("div.summary-content").First(); summary.Length() > 0 {
		summary.Find("a.see-more, div.less-state, div.more-state, span.see-more, span.less-state, span.more-state").Remove()
		if inner, err := summary.Html(); err == nil {
			novel.Summary = strings.TrimSpace(inner)
		}
	}

	if style, ok := doc.Find("div.series-cover div.img-in-ratio").First().Attr("style"); ok {
		novel.MainCover = common.ExtractStyleBackgroundURL(style)
	}

	seenTags := map[string]bool{}
	doc.Find("div.series-gernes a, div.series-genres a").Each(func(_ int, tag *goquery.Selection) {
		text := strings.TrimSpace(tag.Text())
		if text != "" && !seenTags[text] {
			seenTags[text] = true
			novel.Tags = append(novel.Tags, text)
		}
	})

	canonicalHost := parser.canonicalHost(baseURL)

	doc.Find("section.volume-list").Each(func(_ int, sect *goquery.Selection) {
		volume := Volume{Chapters: []Chapter{}}
		volume.Name = common.GetStrOr(strings.TrimSpace(sect.Find("span.sect-title").First().Text()), "Unknown Volume")

		cover := sect.Find("div.volume-cover").First()
		if href, ok := cover.Find("a").First().Attr("href"); ok {
			volume.URL = expandURL(href, canonicalHost)
		}
		if style, ok := cover.Find("div.img-in-ratio").First().Attr("style"); ok {
			volume.CoverImg = common.ExtractStyleBackgroundURL(style)
		}

		sect.Find("ul.list-chapters li a").Each(func(_ int, link *goquery.Selection) {
			href, ok := link.Attr("href")
			if !ok {
				return
			}

			volume.Chapters = append(volume.Chapters, Chapter{
				Name: strings.TrimSpace(link.Text()),
				URL:  expandURL(href, canonicalHost),
			})
		})

		novel.Volumes = append(novel.Volumes, volume)
	})

	return novel, nil
}

// canonicalHost picks the primary host embedded in the base URL, defaulting
// to the preferred host.
func (parser *Parser) canonicalHost(baseURL string) string {
	for _, domain := range parser.domains {
		if strings.Contains(baseURL, domain) {
			return domain
		}
	}

	return parser.domains[0]
}

// expandURL makes a relative href absolute against the canonical primary
// host.
func expandURL(href string, host string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "/") {
		return "https://" + host + href
	}

	return "https://" + host + "/" + href
}
