package destcat

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/dwaller/shelfsync/internal/constants"
)

// thumbnail derives the shelf thumbnail from a cover image: scaled to fit
// entirely inside the 74x105 box with aspect ratio preserved, re-encoded
// as JPEG. Returns the encoded bytes and the resulting height/width
// ratio. Failures are non-fatal: the book syncs without a thumbnail.
func (c *Catalog) thumbnail(coverPath string) ([]byte, float64) {
	if coverPath == "" {
		return nil, 0
	}
	f, err := os.Open(coverPath)
	if err != nil {
		c.log.Error("could not open cover image", "path", coverPath, "error", err)
		return nil, 0
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		c.log.Error("could not decode cover image", "path", coverPath, "error", err)
		return nil, 0
	}

	bounds := img.Bounds()
	if bounds.Dx() > constants.ThumbWidth || bounds.Dy() > constants.ThumbHeight {
		img = reduceImage(img)
		bounds = img.Bounds()
	}
	aspectRatio := float64(bounds.Dy()) / float64(bounds.Dx())

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: constants.ThumbJPEGQuality}); err != nil {
		c.log.Error("could not encode thumbnail", "path", coverPath, "error", err)
		return nil, 0
	}
	return buf.Bytes(), aspectRatio
}

// reduceImage scales an image proportionally into the thumbnail box. The
// result must satisfy both height <= 105 and width <= 74, so the
// constraining dimension is whichever one overflows the box's own
// height/width ratio.
func reduceImage(img image.Image) image.Image {
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()

	boxRatio := float64(constants.ThumbHeight) / float64(constants.ThumbWidth)
	var dstW, dstH int
	if float64(srcH)/float64(srcW) > boxRatio {
		dstH = constants.ThumbHeight
		dstW = int(float64(srcW) * float64(dstH) / float64(srcH))
	} else {
		dstW = constants.ThumbWidth
		dstH = int(float64(srcH) * float64(dstW) / float64(srcW))
	}
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
