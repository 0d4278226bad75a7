package codec

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// Flatten composites img onto a white background so it can be stored in a
// format without an alpha channel. Opaque images are returned unchanged.
func Flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.SetColor(color.White)
	dc.Clear()
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)

	return dc.Image()
}
