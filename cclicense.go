package harvest

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ccLicensePathSegments are URL path prefixes that identify a Creative Commons
// license or public-domain dedication (as opposed to the CC homepage).
var ccLicensePathSegments = []string{
	"creativecommons.org/licenses/",
	"creativecommons.org/publicdomain/",
}

// IsCCLicenseURL reports whether rawURL points to a Creative Commons license.
// Case-insensitive; works with https, http and protocol-relative URLs.
func IsCCLicenseURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, seg := range ccLicensePathSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}
	return false
}

// ExtractCCLicense returns the first Creative Commons license URL referenced
// by the page, or "" if none. rel="license" links are preferred over bare
// links and meta tags.
func ExtractCCLicense(pageHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	for _, q := range []struct{ sel, attr string }{
		{`a[rel~="license"], link[rel~="license"]`, "href"},
		{`a[href], link[href]`, "href"},
		{`meta[content]`, "content"},
	} {
		if u := firstCCAttr(doc.Find(q.sel), q.attr); u != "" {
			return u
		}
	}
	return ""
}

func firstCCAttr(sel *goquery.Selection, attr string) string {
	var found string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr(attr); ok && IsCCLicenseURL(v) {
			found = strings.TrimSpace(v)
			return false
		}
		return true
	})
	return found
}
