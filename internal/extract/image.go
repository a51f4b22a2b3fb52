package extract

import (
	"context"
	"fmt"

	exif "github.com/dsoprea/go-exif/v3"

	"github.com/nao1215/dysdera/internal/model"
)

// exifTags are the EXIF tags copied into the record, under "exif.<Tag>".
var exifTags = map[string]bool{
	"Make":               true,
	"Model":              true,
	"Software":           true,
	"Artist":             true,
	"Copyright":          true,
	"DateTime":           true,
	"DateTimeOriginal":   true,
	"ImageDescription":   true,
	"GPSLatitude":        true,
	"GPSLatitudeRef":     true,
	"GPSLongitude":       true,
	"GPSLongitudeRef":    true,
	"LensModel":          true,
	"ImageWidth":         true,
	"ImageLength":        true,
	"PixelXDimension":    true,
	"PixelYDimension":    true,
	"Orientation":        true,
	"ProcessingSoftware": true,
}

// ImageExtractor records EXIF metadata of JPEG and TIFF images.
// Images never produce links.
type ImageExtractor struct{}

// Name implements Extractor.
func (ImageExtractor) Name() string { return "image" }

// Supports implements Extractor.
func (ImageExtractor) Supports(mediaType string) bool {
	return mediaType == "image/jpeg" || mediaType == "image/tiff"
}

// Extract implements Extractor. An image without a readable EXIF block is
// not an error; a block that is found but cannot be decoded is.
func (ImageExtractor) Extract(_ context.Context, s *model.Success, out *model.ContentRecord) ([]model.Link, error) {
	raw, err := exif.SearchAndExtractExif(s.Body)
	if err != nil || raw == nil {
		return nil, nil
	}

	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("read exif: %w", err)
	}

	for _, entry := range entries {
		if !exifTags[entry.TagName] || entry.Formatted == "" {
			continue
		}
		if out.Meta == nil {
			out.Meta = make(map[string]string)
		}
		key := "exif." + entry.TagName
		if _, dup := out.Meta[key]; !dup {
			out.Meta[key] = entry.Formatted
		}
	}
	if d := out.Meta["exif.ImageDescription"]; d != "" {
		out.Title = clean(d)
	}
	return nil, nil
}
