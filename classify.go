package harvest

// Bucket is a destination grouping under <root>/Organized.
type Bucket string

const (
	BucketBestCuts          Bucket = "Best_Cuts"          // ultra HD or very large files
	BucketMobileWallpapers  Bucket = "Mobile_Wallpapers"  // portrait, long side >= 1920
	BucketDesktopWallpapers Bucket = "Desktop_Wallpapers" // landscape or square, long side >= 1920
	BucketGeneralHQ         Bucket = "General_HQ"         // long side >= 1000
	BucketArchiveLowRes     Bucket = "Archive_LowRes"     // everything else
)

// Buckets lists every Bucket.
var Buckets = []Bucket{
	BucketBestCuts,
	BucketMobileWallpapers,
	BucketDesktopWallpapers,
	BucketGeneralHQ,
	BucketArchiveLowRes,
}

const (
	premiumMinWidth      = 3000
	premiumMinBytes      = 2 << 20 // 2 MiB
	wallpaperMinLongSide = 1920
	hqMinLongSide        = 1000
)

// Classify returns the buckets an image belongs to. It is pure: the same
// inputs always give the same buckets in the same order, so it can be rerun
// over already stored files (see Reorganize).
//
// Best_Cuts is added when width >= 3000 or size >= 2 MiB. Exactly one of the
// wallpaper, General_HQ or Archive_LowRes buckets is then picked by the long side.
func Classify(width, height int, size int64) []Bucket {
	buckets := make([]Bucket, 0, 2)

	if width >= premiumMinWidth || size >= premiumMinBytes {
		buckets = append(buckets, BucketBestCuts)
	}

	switch long := max(width, height); {
	case long >= wallpaperMinLongSide:
		if height > width {
			buckets = append(buckets, BucketMobileWallpapers)
		} else {
			buckets = append(buckets, BucketDesktopWallpapers)
		}
	case long >= hqMinLongSide:
		buckets = append(buckets, BucketGeneralHQ)
	default:
		buckets = append(buckets, BucketArchiveLowRes)
	}

	return buckets
}
