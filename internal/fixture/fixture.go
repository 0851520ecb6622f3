// Package fixture renders synthetic receipt images for tests
package fixture

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/anthonynsimon/bild/transform"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Table is the dark background receipts are photographed on
var Table = color.Gray{Y: 40}

// Blank returns a w x h image filled with c
func Blank(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// Text returns a white w x h image with lines printed from the top-left,
// with no visible paper edge
func Text(w, h int, lines ...string) *image.RGBA {
	img := Blank(w, h, color.White)
	printLines(img, image.Pt(20, 30), lines)
	return img
}

// Receipt returns a photo-like image: a white paper rectangle of paper
// size, offset by at, on a dark table of size canvas, with lines printed on
// the paper
func Receipt(canvas, paper image.Point, at image.Point, lines ...string) *image.RGBA {
	img := Blank(canvas.X, canvas.Y, Table)
	sheet := image.Rectangle{Min: at, Max: at.Add(paper)}
	draw.Draw(img, sheet, image.NewUniform(color.White), image.Point{}, draw.Src)
	printLines(img, at.Add(image.Pt(20, 30)), lines)
	return img
}

// Rotated rotates img by angle degrees onto a white background, growing the
// bounds so nothing is clipped
func Rotated(img image.Image, angle float64) *image.RGBA {
	rotated := transform.Rotate(img, angle, &transform.RotationOptions{ResizeBounds: true})
	out := Blank(rotated.Bounds().Dx(), rotated.Bounds().Dy(), color.White)
	draw.Draw(out, out.Bounds(), rotated, rotated.Bounds().Min, draw.Over)
	return out
}

// Bar draws a filled black rectangle onto img
func Bar(img draw.Image, r image.Rectangle) {
	draw.Draw(img, r, image.NewUniform(color.Black), image.Point{}, draw.Src)
}

// PNG encodes img
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG encodes img at high quality
func JPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func printLines(dst draw.Image, origin image.Point, lines []string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	lineHeight := basicfont.Face7x13.Metrics().Height.Ceil() + 6
	for i, line := range lines {
		d.Dot = fixed.P(origin.X, origin.Y+i*lineHeight)
		d.DrawString(line)
	}
}
