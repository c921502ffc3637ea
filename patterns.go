package harvest

import "strings"

// placeholderPatterns are URL substrings of site chrome that pages often
// advertise as og:image when they have no content image of their own.
var placeholderPatterns = []string{
	"favicon", "logo", "icon", "banner", "sprite",
	"badge", "button", "widget", "avatar",
}

// IsPlaceholderImageURL reports whether rawURL looks like a logo, banner or
// other site chrome rather than a content image.
func IsPlaceholderImageURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, p := range placeholderPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
