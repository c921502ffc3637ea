package harvest

import (
	"bytes"

	"github.com/bep/imagemeta"
)

// Credit holds attribution fields found in EXIF, IPTC or XMP metadata.
// It is recorded in the items log next to each stored image.
type Credit struct {
	Artist    string
	Copyright string
	License   string
}

// wantedTags maps (source, tag-name) → true for every tag we care about.
var wantedTags = map[imagemeta.Source]map[string]bool{
	imagemeta.IPTC: {
		"CopyrightNotice": true,
		"Byline":          true,
	},
	imagemeta.EXIF: {
		"Copyright": true,
		"Artist":    true,
	},
	imagemeta.XMP: {
		"WebStatement": true,
		"License":      true,
		"Rights":       true,
		"Creator":      true,
	},
}

// ExtractCredit parses attribution metadata from raw image bytes.
// Missing or unparsable metadata yields a zero Credit.
func ExtractCredit(data []byte) Credit {
	var c Credit
	if len(data) == 0 {
		return c
	}

	_, err := imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF | imagemeta.IPTC | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			if tags, ok := wantedTags[ti.Source]; ok {
				return tags[ti.Tag]
			}
			return false
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			s := tagValueString(ti.Value)
			if s == "" {
				return nil
			}
			switch ti.Tag {
			case "Artist", "Byline", "Creator":
				setOnce(&c.Artist, s)
			case "Copyright", "CopyrightNotice", "Rights":
				setOnce(&c.Copyright, s)
			case "License", "WebStatement":
				setOnce(&c.License, s)
			}
			return nil
		},
	})
	if err != nil {
		return Credit{}
	}
	return c
}

// setOnce keeps the first value seen; EXIF is read before IPTC and XMP.
func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// tagValueString extracts a string from a tag value.
// XMP values may be string or []string (from altList/seqList).
func tagValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		if len(val) > 0 {
			return val[0]
		}
		return ""
	case []any:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return s
			}
		}
		return ""
	default:
		return ""
	}
}
