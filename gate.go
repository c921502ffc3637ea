package harvest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageInfo is the decoded shape of a fetched image. It is produced once per
// candidate and passed by value to later stages.
type ImageInfo struct {
	Width  int
	Height int
	Format string // decoder name: "jpeg", "png", "gif", "webp", "bmp", "tiff"
}

// ShortSide returns min(Width, Height).
func (i ImageInfo) ShortSide() int {
	return min(i.Width, i.Height)
}

// LongSide returns max(Width, Height).
func (i ImageInfo) LongSide() int {
	return max(i.Width, i.Height)
}

// Area returns the pixel count.
func (i ImageInfo) Area() int64 {
	return int64(i.Width) * int64(i.Height)
}

// Rejection is returned by Gate when a fetched body does not qualify.
type Rejection struct {
	Outcome Outcome
	Detail  string
}

func (r *Rejection) Error() string {
	return string(r.Outcome) + ": " + r.Detail
}

// Gate admits data as an image:
//   - contentType must be image/* (checked before any decoding)
//   - the header must decode to positive dimensions
//   - min(width, height) >= minShortSide (inclusive)
//
// The returned error is always a *Rejection.
func Gate(data []byte, contentType string, minShortSide int) (ImageInfo, error) {
	ct := mediaType(contentType)
	if !strings.HasPrefix(ct, "image/") {
		if ct == "" {
			ct = "unknown"
		}
		return ImageInfo{}, &Rejection{Outcome: OutcomeNotImage, Detail: "content_type=" + ct}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, &Rejection{Outcome: OutcomeImageDecodeFail, Detail: err.Error()}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, &Rejection{
			Outcome: OutcomeImageDecodeFail,
			Detail:  fmt.Sprintf("invalid dimensions %dx%d", cfg.Width, cfg.Height),
		}
	}

	info := ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}
	if info.ShortSide() < minShortSide {
		return ImageInfo{}, &Rejection{
			Outcome: OutcomeResolutionTooSmall,
			Detail:  fmt.Sprintf("%dx%d", info.Width, info.Height),
		}
	}
	return info, nil
}
