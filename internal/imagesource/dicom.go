package imagesource

import (
	"bytes"
	"fmt"
	"image"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// dicomPreamble is the size of the preamble before the "DICM" magic.
const dicomPreamble = 128

// isDICOM reports whether b starts with a DICOM Part 10 file header.
func isDICOM(b []byte) bool {
	return len(b) >= dicomPreamble+4 && string(b[dicomPreamble:dicomPreamble+4]) == "DICM"
}

// dicomDimensions reads Columns and Rows without parsing the pixel data.
func dicomDimensions(b []byte) (w, h int, err error) {
	ds, err := dicom.Parse(bytes.NewReader(b), int64(len(b)), nil, dicom.SkipPixelData())
	if err != nil {
		return 0, 0, fmt.Errorf("%w: parse dicom: %w", ErrDecode, err)
	}
	dim := func(t tag.Tag) (int, error) {
		el, err := ds.FindElementByTag(t)
		if err != nil {
			return 0, fmt.Errorf("%w: dicom header: %w", ErrDecode, err)
		}
		v, ok := el.Value.GetValue().([]int)
		if !ok || len(v) == 0 {
			return 0, fmt.Errorf("%w: dicom %v is not an integer", ErrDecode, t)
		}
		return v[0], nil
	}
	if w, err = dim(tag.Columns); err != nil {
		return 0, 0, err
	}
	if h, err = dim(tag.Rows); err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

// decodeDICOM returns the first frame of the pixel data in b. 16-bit
// grayscale frames are stretched to the full 8-bit range, since angiography
// rarely uses more than a fraction of the stored bit depth.
func decodeDICOM(b []byte) (image.Image, error) {
	ds, err := dicom.Parse(bytes.NewReader(b), int64(len(b)), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dicom: %w", ErrDecode, err)
	}
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: dicom has no pixel data: %w", ErrDecode, err)
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("%w: dicom has no frames", ErrDecode)
	}
	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("%w: dicom frame: %w", ErrDecode, err)
	}
	if g, ok := img.(*image.Gray16); ok {
		return stretchGray16(g), nil
	}
	return img, nil
}

// stretchGray16 maps the used value range of g linearly onto 0–255.
func stretchGray16(g *image.Gray16) *image.Gray {
	b := g.Bounds()
	lo, hi := uint16(0xffff), uint16(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := g.Gray16At(x, y).Y
			lo, hi = min(lo, v), max(hi, v)
		}
	}

	out := image.NewGray(b)
	span := uint32(hi) - uint32(lo)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v uint8
			if span > 0 {
				v = uint8((uint32(g.Gray16At(x, y).Y-lo) * 255) / span)
			}
			out.Pix[out.PixOffset(x, y)] = v
		}
	}
	return out
}
