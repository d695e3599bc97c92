package heightmap

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"math"
	"os"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	_ "golang.org/x/image/tiff"
)

// An Image is a grayscale heightmap stretched over a world rectangle.
type Image struct {
	Width       int
	Height      int
	Heights     []float32
	WorldSize   mgl32.Vec2
	Origin      mgl32.Vec2
	HeightScale float32

	fingerprint string
}

// NewImage returns an image heightmap from normalized row-major heights.
func NewImage(width, height int, heights []float32, worldSize, origin mgl32.Vec2, heightScale float32) (*Image, error) {
	if width < 1 || height < 1 || len(heights) != width*height {
		return nil, errors.New("heightmap dimensions do not match its data").
			WithTag("width", width).
			WithTag("height", height).
			WithTag("len", len(heights))
	}

	h := sha256.New()
	var buf [4]byte
	for _, v := range []float32{float32(width), float32(height), worldSize[0], worldSize[1], origin[0], origin[1], heightScale} {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	for _, v := range heights {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}

	return &Image{
		Width:       width,
		Height:      height,
		Heights:     heights,
		WorldSize:   worldSize,
		Origin:      origin,
		HeightScale: heightScale,
		fingerprint: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// LoadImage reads a PNG or TIFF heightmap file.
func LoadImage(path string, worldSize, origin mgl32.Vec2, heightScale float32) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New("opening heightmap failed").
			WithTag("path", path).
			Wrap(err)
	}
	defer f.Close()

	img, err := DecodeImage(f, worldSize, origin, heightScale)
	if err != nil {
		return nil, errors.New("loading heightmap failed").
			WithTag("path", path).
			Wrap(err)
	}
	return img, nil
}

// DecodeImage decodes a heightmap. Pixel luminance maps to [0, 1] before
// being multiplied by the height scale.
func DecodeImage(r io.Reader, worldSize, origin mgl32.Vec2, heightScale float32) (*Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.New("decoding heightmap failed").Wrap(err)
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	heights := make([]float32, 0, width*height)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.Gray16Model.Convert(src.At(x, y)).(color.Gray16)
			heights = append(heights, float32(g.Y)/math.MaxUint16)
		}
	}

	img, err := NewImage(width, height, heights, worldSize, origin, heightScale)
	if err != nil {
		return nil, errors.New("invalid heightmap").
			WithTag("format", format).
			Wrap(err)
	}
	return img, nil
}

// Sample returns the bilinearly interpolated height at (x, z). Positions
// outside the world rectangle take the height of the nearest edge.
func (img *Image) Sample(x, z float32) float32 {
	u := clamp32((x-img.Origin[0])/img.WorldSize[0], 0, 1)
	v := clamp32((z-img.Origin[1])/img.WorldSize[1], 0, 1)

	px := u * float32(img.Width-1)
	pz := v * float32(img.Height-1)

	x0 := int(px)
	z0 := int(pz)
	x1 := min(x0+1, img.Width-1)
	z1 := min(z0+1, img.Height-1)

	fx := px - float32(x0)
	fz := pz - float32(z0)

	h00 := img.at(x0, z0)
	h10 := img.at(x1, z0)
	h01 := img.at(x0, z1)
	h11 := img.at(x1, z1)

	top := h00 + (h10-h00)*fx
	bottom := h01 + (h11-h01)*fx
	return (top + (bottom-top)*fz) * img.HeightScale
}

func (img *Image) at(x, z int) float32 {
	return img.Heights[z*img.Width+x]
}
