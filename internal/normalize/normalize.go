package normalize

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/zombor/receipt-parser/internal/fault"
	"github.com/zombor/receipt-parser/internal/geometry"
)

const (
	// contour search runs on a half-size copy
	contourScale = 0.5

	blurKernel     = 5
	cannyLow       = 50
	cannyHigh      = 150
	maxCandidates  = 5
	approxEpsilon  = 0.02
	maxEdge        = 2500
	claheClipLimit = 2.0
	claheGrid      = 8
	deskewMaxAngle = 15.0
)

// Normalizer turns a receipt photograph into an upright, cropped,
// contrast-enhanced grayscale image
type Normalizer struct {
	sink ArtifactSink
	now  func() time.Time
	runs atomic.Uint64
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithArtifactSink writes every intermediate step to sink
func WithArtifactSink(sink ArtifactSink) Option {
	return func(n *Normalizer) {
		n.sink = sink
	}
}

// New creates a Normalizer. Debug artifacts are off unless a sink is given.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize runs the full pipeline on raw image bytes. The only error it
// returns is a decode failure.
func (n *Normalizer) Normalize(raw []byte) (*image.Gray, error) {
	img, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	bgr, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	r := n.newRun()
	r.save("1_original", bgr)

	warped := correctPerspective(bgr)
	defer warped.Close()
	r.save("2_warped", warped)

	resized := capEdge(warped)
	defer resized.Close()
	r.save("3_resized", resized)

	enhanced := enhance(resized)
	defer enhanced.Close()
	r.save("4_clahe", enhanced)

	straight := deskew(enhanced)
	defer straight.Close()
	r.save("5_deskew", straight)

	return toGray(straight)
}

// toBGR builds the working colour buffer. Alpha is dropped, not blended.
func toBGR(img image.Image) (gocv.Mat, error) {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return gocv.Mat{}, fault.New(fault.Decode, "image has no pixels")
	}

	rgba, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, nrgba.Pix)
	if err != nil {
		return gocv.Mat{}, fault.Wrap(fault.Decode, err, "loading pixels")
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// correctPerspective warps the detected receipt onto an upright rectangle,
// or returns a copy of the whole image when no receipt outline is found
func correctPerspective(bgr gocv.Mat) gocv.Mat {
	corners, ok := detectQuad(bgr)
	if !ok {
		slog.Debug("No receipt outline found, using full image")
		return bgr.Clone()
	}

	quad := geometry.OrderPoints(corners).Scale(1 / contourScale)
	w, h := quad.DestinationSize()
	if w < 1 || h < 1 {
		slog.Debug("Degenerate receipt outline, using full image", "width", w, "height", h)
		return bgr.Clone()
	}

	src := gocv.NewPoint2fVectorFromPoints(toPoint2f(quad))
	defer src.Close()
	dst := gocv.NewPoint2fVectorFromPoints(toPoint2f(quad.Destination()))
	defer dst.Close()

	m := gocv.GetPerspectiveTransform2f(src, dst)
	defer m.Close()

	out := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(bgr, &out, m, image.Pt(w, h),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return out
}

// detectQuad searches a half-size grayscale copy for the largest contour
// that simplifies to four vertices. Coordinates are in half-size space.
func detectQuad(bgr gocv.Mat) ([4]geometry.Point, bool) {
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(bgr, &small, image.Point{}, contourScale, contourScale, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(small, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, cannyLow, cannyHigh)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type candidate struct {
		index int
		area  float64
	}
	candidates := make([]candidate, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		candidates = append(candidates, candidate{index: i, area: gocv.ContourArea(contours.At(i))})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].area > candidates[b].area
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	for _, c := range candidates {
		contour := contours.At(c.index)
		perimeter := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, approxEpsilon*perimeter, true)
		pts := approx.ToPoints()
		approx.Close()

		if len(pts) != 4 {
			continue
		}
		var corners [4]geometry.Point
		for i, p := range pts {
			corners[i] = geometry.Point{X: float64(p.X), Y: float64(p.Y)}
		}
		return corners, true
	}
	return [4]geometry.Point{}, false
}

// capEdge downscales so the longer edge is at most maxEdge
func capEdge(src gocv.Mat) gocv.Mat {
	w, h, scaled := geometry.CapSize(src.Cols(), src.Rows(), maxEdge)
	if !scaled {
		return src.Clone()
	}

	out := gocv.NewMat()
	gocv.Resize(src, &out, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
	return out
}

// enhance converts to grayscale and applies CLAHE
func enhance(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(claheGrid, claheGrid))
	defer clahe.Close()

	out := gocv.NewMat()
	clahe.Apply(gray, &out)
	return out
}

// deskew straightens small residual tilt. Angles beyond deskewMaxAngle are
// treated as detection noise and left alone.
func deskew(gray gocv.Mat) gocv.Mat {
	angle, ok := skewAngle(gray)
	if !ok {
		return gray.Clone()
	}
	if math.Abs(angle) > deskewMaxAngle {
		slog.Debug("Skipping deskew", "angle", angle, "limit", deskewMaxAngle)
		return gray.Clone()
	}

	w, h := gray.Cols(), gray.Rows()
	m := affineMat(geometry.RotationMatrix(float64(w)/2, float64(h)/2, angle, 1))
	defer m.Close()

	out := gocv.NewMat()
	gocv.WarpAffineWithParams(gray, &out, m, image.Pt(w, h),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return out
}

// skewAngle returns the normalized angle of the minimum-area rectangle around
// every non-white pixel. It reports false when the image is entirely white.
func skewAngle(gray gocv.Mat) (float64, bool) {
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, 254, 255, gocv.ThresholdBinaryInv)

	if gocv.CountNonZero(mask) == 0 {
		return 0, false
	}

	locations := gocv.NewMat()
	defer locations.Close()
	gocv.FindNonZero(mask, &locations)

	pts := make([]image.Point, 0, locations.Rows())
	for i := 0; i < locations.Rows(); i++ {
		v := locations.GetVeciAt(i, 0)
		pts = append(pts, image.Pt(int(v[0]), int(v[1])))
	}

	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()

	rect := gocv.MinAreaRect(pv)
	return geometry.NormalizeSkew(rect.Angle), true
}

func affineMat(a [2][3]float64) gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := range a {
		for c := range a[r] {
			m.SetDoubleAt(r, c, a[r][c])
		}
	}
	return m
}

func toPoint2f(q geometry.Quad) []gocv.Point2f {
	out := make([]gocv.Point2f, len(q))
	for i, p := range q {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}

func toGray(m gocv.Mat) (*image.Gray, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting normalized image: %w", err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g, nil
}
