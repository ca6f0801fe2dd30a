package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Tensor is a batch of images laid out as [batch, height, width, channels]
// with float32 samples in [0, 1], the layout the host passes between nodes.
type Tensor struct {
	Shape [4]int    `json:"shape"`
	Data  []float32 `json:"data"`
}

// MaxPixels bounds the height*width of a single tensor image.
const MaxPixels = 1 << 26

// Validate checks that Data matches Shape.
func (t *Tensor) Validate() error {
	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor shape %v has non-positive dimension", t.Shape)
		}
		if n > math.MaxInt/d {
			return fmt.Errorf("tensor shape %v is too large", t.Shape)
		}
		n *= d
	}
	if h, w := t.Shape[1], t.Shape[2]; h > MaxPixels/w {
		return fmt.Errorf("tensor images of %dx%d exceed %d pixels", w, h, MaxPixels)
	}
	if c := t.Shape[3]; c != 1 && c != 3 && c != 4 {
		return fmt.Errorf("tensor has %d channels, want 1, 3 or 4", c)
	}
	if len(t.Data) != n {
		return fmt.Errorf("tensor data has %d values, shape %v needs %d", len(t.Data), t.Shape, n)
	}
	return nil
}

// FromImage converts img to a single-entry RGB tensor. Alpha is dropped
// without compositing.
func FromImage(img image.Image) *Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := &Tensor{Shape: [4]int{1, h, w, 3}, Data: make([]float32, h*w*3)}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			t.Data[i] = float32(c.R) / 255
			t.Data[i+1] = float32(c.G) / 255
			t.Data[i+2] = float32(c.B) / 255
			i += 3
		}
	}
	return t
}

// Images splits t into one image per batch entry, scaling samples by 255,
// rounding and clipping to [0, 255].
func (t *Tensor) Images() ([]image.Image, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	n, h, w, c := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	stride := h * w * c
	out := make([]image.Image, 0, n)
	for b := 0; b < n; b++ {
		src := t.Data[b*stride : (b+1)*stride]
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for p := 0; p < h*w; p++ {
			px := src[p*c : (p+1)*c]
			var r, g, bl, a uint8
			switch c {
			case 1:
				r = toByte(px[0])
				g, bl, a = r, r, 255
			case 3:
				r, g, bl, a = toByte(px[0]), toByte(px[1]), toByte(px[2]), 255
			case 4:
				r, g, bl, a = toByte(px[0]), toByte(px[1]), toByte(px[2]), toByte(px[3])
			}
			img.Pix[p*4], img.Pix[p*4+1], img.Pix[p*4+2], img.Pix[p*4+3] = r, g, bl, a
		}
		out = append(out, img)
	}
	return out, nil
}

func toByte(v float32) uint8 {
	f := float64(v) * 255
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(math.Round(f))
}
