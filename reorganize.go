package harvest

import (
	"context"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ReorganizeStats counts the work done by Reorganize.
type ReorganizeStats struct {
	Processed int // stored images classified
	Copied    int // bucket copies written
	Skipped   int // files that could not be read or decoded
}

// Reorganize classifies every stored image under root again and adds the
// bucket copies that are missing. Existing copies are left alone, so it can be
// rerun safely after the classification thresholds change.
func Reorganize(ctx context.Context, root string) (ReorganizeStats, error) {
	var stats ReorganizeStats
	layout, err := NewLayout(root)
	if err != nil {
		return stats, err
	}

	skipDirs := map[string]bool{
		filepath.Join(layout.Root(), organizedDir): true,
		filepath.Join(layout.Root(), metaDir):      true,
		filepath.Join(layout.Root(), logsDir):      true,
	}

	err = filepath.WalkDir(layout.Root(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[p] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !isStoredImageExt(filepath.Ext(p)) {
			return nil
		}

		w, h, size, err := probeFile(p)
		if err != nil {
			slog.Debug("harvest: reorganize skipped file", "path", p, "error", err.Error())
			stats.Skipped++
			return nil
		}

		n, err := layout.CopyToBuckets(p, Classify(w, h, size))
		if err != nil {
			slog.Warn("harvest: reorganize copy failed", "path", p, "error", err.Error())
		}
		stats.Processed++
		stats.Copied += n
		return nil
	})
	return stats, err
}

func probeFile(p string) (w, h int, size int64, err error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, 0, err
	}
	return cfg.Width, cfg.Height, st.Size(), nil
}
