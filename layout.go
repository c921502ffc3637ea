package harvest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	organizedDir = "Organized"
	metaDir      = "meta"
	logsDir      = "logs"

	hashPrefixLen = 20

	// fallbackExt is used for images whose format has no known extension.
	fallbackExt = ".img"
)

// imageExts are the file extensions kept from a URL path as-is.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	".gif": true, ".bmp": true, ".tiff": true,
}

// Layout is the on-disk arrangement of persisted images:
//
//	<root>/<YYYY-MM-DD>/<source>/<sha256 prefix><ext>   canonical copy
//	<root>/Organized/<Bucket>/<filename>               classification copies
//	<root>/meta/                                       stores, event logs, status
type Layout struct {
	root string
}

// NewLayout creates root and its meta and logs directories.
func NewLayout(root string) (*Layout, error) {
	if root == "" {
		return nil, errors.New("layout: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, metaDir), filepath.Join(abs, logsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("layout: create %s: %w", dir, err)
		}
	}
	return &Layout{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Layout) Root() string { return l.root }

// MetaPath returns the path of name inside the meta directory.
func (l *Layout) MetaPath(name string) string {
	return filepath.Join(l.root, metaDir, name)
}

// CanonicalPath returns where an image with the given content hash is stored.
func (l *Layout) CanonicalPath(at time.Time, source, hash, ext string) string {
	prefix := hash
	if len(prefix) > hashPrefixLen {
		prefix = prefix[:hashPrefixLen]
	}
	return filepath.Join(l.root, at.Format(time.DateOnly), safeSegment(source), prefix+ext)
}

// BucketPath returns where a classification copy of filename goes.
func (l *Layout) BucketPath(b Bucket, filename string) string {
	return filepath.Join(l.root, organizedDir, string(b), filename)
}

// Write stores data at p through a temporary file and a rename, so p either
// does not exist or holds the complete content.
func (l *Layout) Write(p string, data []byte) error {
	if err := l.contains(p); err != nil {
		return err
	}
	if err := writeFileAtomic(p, data); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// Remove deletes p. A missing file is not an error.
func (l *Layout) Remove(p string) error {
	if err := l.contains(p); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CopyToBuckets copies the file at src into every bucket directory that does
// not already hold a file of the same name. It returns how many copies were
// written and the first error encountered; remaining buckets are still tried.
func (l *Layout) CopyToBuckets(src string, buckets []Bucket) (int, error) {
	name := filepath.Base(src)
	copied := 0
	var firstErr error
	for _, b := range buckets {
		dst := l.BucketPath(b, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("copy to %s: %w", b, err)
			}
			continue
		}
		copied++
	}
	return copied, firstErr
}

// RemoveFromBuckets deletes the classification copies of the canonical file p
// from every bucket. It returns the first error; remaining buckets are still tried.
func (l *Layout) RemoveFromBuckets(p string) error {
	name := filepath.Base(p)
	var firstErr error
	for _, b := range Buckets {
		if err := l.Remove(l.BucketPath(b, name)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsOrganized reports whether p lies under the Organized directory.
func (l *Layout) IsOrganized(p string) bool {
	rel, err := filepath.Rel(filepath.Join(l.root, organizedDir), p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (l *Layout) contains(p string) error {
	rel, err := filepath.Rel(l.root, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid path %s: outside %s", p, l.root)
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst) //nolint:errcheck
		return err
	}
	return out.Close()
}

// GuessExtension picks a file extension from the URL path, then the content
// type, then the decoded format. Unknown images get ".img".
func GuessExtension(rawURL, contentType, format string) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if imageExts[ext] {
			return ext
		}
	}

	ct := strings.ToLower(contentType)
	for _, c := range []struct{ sub, ext string }{
		{"jpeg", ".jpg"}, {"png", ".png"}, {"webp", ".webp"},
		{"gif", ".gif"}, {"bmp", ".bmp"}, {"tiff", ".tiff"},
	} {
		if strings.Contains(ct, c.sub) {
			return c.ext
		}
	}

	switch f := strings.ToLower(format); f {
	case "jpeg", "jpg":
		return ".jpg"
	case "png", "webp", "gif", "bmp", "tiff":
		return "." + f
	}
	return fallbackExt
}

// isStoredImageExt reports whether ext is one GuessExtension can produce.
func isStoredImageExt(ext string) bool {
	ext = strings.ToLower(ext)
	return imageExts[ext] || ext == fallbackExt
}

// safeSegment turns a source tag into a single path segment.
func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
