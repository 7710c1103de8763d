package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// ErrEmptyCrop is returned when the crop rectangle misses the frame.
var ErrEmptyCrop = errors.New("crop region is empty")

// minCropSide is the shortest side a crop is upscaled to so the detector
// can find the face again when the sample is re-verified.
const minCropSide = 160

// Crop returns a JPEG of the rect region of the frame, clipped to the frame.
func Crop(frame *Frame, rect image.Rectangle) ([]byte, error) {
	img, err := frame.ToImage()
	if err != nil {
		return nil, err
	}

	region := rect.Intersect(img.Bounds())
	if region.Empty() {
		return nil, ErrEmptyCrop
	}

	w, h := region.Dx(), region.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Copy(out, image.Point{}, img, region, draw.Src, nil)

	var result image.Image = out
	if short := min(w, h); short < minCropSide {
		scale := float64(minCropSide) / float64(short)
		sw, sh := int(float64(w)*scale), int(float64(h)*scale)
		scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), out, out.Bounds(), draw.Over, nil)
		result = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, result, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
