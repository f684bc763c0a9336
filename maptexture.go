package placement

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// MapTexture is a host-side scalar field sampled by the placement kernels.
// Heightmaps and density maps are both MapTextures: a row-major grid of
// values in [0, 1], sampled bilinearly with clamp-to-edge addressing.
//
// The same values are uploaded to the compute device, so the CPU path and
// the GPU path sample identical data.
type MapTexture struct {
	width  int
	height int
	values []float32
}

// NewMapTexture builds a MapTexture from an image. The image is converted
// to RGBA and the red channel is taken as the field value, normalized to
// [0, 1]. Grayscale inputs therefore sample as expected.
func NewMapTexture(img image.Image) *MapTexture {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	}
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	values := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			values[y*w+x] = float32(row[x*4]) / 255.0
		}
	}
	return &MapTexture{width: w, height: h, values: values}
}

// NewUniformMapTexture returns a 1x1 texture that samples to v everywhere.
func NewUniformMapTexture(v float32) *MapTexture {
	return &MapTexture{width: 1, height: 1, values: []float32{v}}
}

// NewMapTextureFromValues builds a MapTexture from a row-major value grid.
// The slice is used directly, not copied. len(values) must be width*height.
func NewMapTextureFromValues(width, height int, values []float32) *MapTexture {
	if width <= 0 || height <= 0 || len(values) != width*height {
		return NewUniformMapTexture(0)
	}
	return &MapTexture{width: width, height: height, values: values}
}

// Width returns the texture width in texels.
func (t *MapTexture) Width() int { return t.width }

// Height returns the texture height in texels.
func (t *MapTexture) Height() int { return t.height }

// Values returns the row-major texel values. The slice is shared, not copied.
func (t *MapTexture) Values() []float32 { return t.values }

// Sample bilinearly samples the field at normalized coordinates (u, v) with
// clamp-to-edge addressing. The arithmetic is kept in float32 so it matches
// the device kernels texel for texel.
func (t *MapTexture) Sample(u, v float32) float32 {
	fx := u*float32(t.width) - 0.5
	fy := v*float32(t.height) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	tx := fx - float32(x0)
	ty := fy - float32(y0)

	x1 := clampIndex(x0+1, t.width)
	y1 := clampIndex(y0+1, t.height)
	x0 = clampIndex(x0, t.width)
	y0 = clampIndex(y0, t.height)

	v00 := t.values[y0*t.width+x0]
	v10 := t.values[y0*t.width+x1]
	v01 := t.values[y1*t.width+x0]
	v11 := t.values[y1*t.width+x1]

	top := v00 + (v10-v00)*tx
	bot := v01 + (v11-v01)*tx
	return top + (bot-top)*ty
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
