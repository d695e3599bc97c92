package mesh

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/aukilabs/terrain/models"
)

const (
	// ErrTypeMalformedMesh is the error type returned when encoded mesh
	// bytes cannot be decoded.
	ErrTypeMalformedMesh = "malformed-mesh"
)

const (
	fieldPositions protowire.Number = 1
	fieldNormals   protowire.Number = 2
	fieldUVs       protowire.Number = 3
	fieldIndices   protowire.Number = 4
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Encode serializes a mesh as a zstd compressed protobuf wire message with
// packed fields.
func Encode(m models.MeshData) []byte {
	b := make([]byte, 0, len(m.Positions)*28+len(m.Indices)*3+32)

	b = appendVec3s(b, fieldPositions, m.Positions)
	b = appendVec3s(b, fieldNormals, m.Normals)

	if len(m.UVs) != 0 {
		packed := make([]byte, 0, len(m.UVs)*8)
		for _, uv := range m.UVs {
			packed = protowire.AppendFixed32(packed, math.Float32bits(uv[0]))
			packed = protowire.AppendFixed32(packed, math.Float32bits(uv[1]))
		}
		b = protowire.AppendTag(b, fieldUVs, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	if len(m.Indices) != 0 {
		packed := make([]byte, 0, len(m.Indices)*3)
		for _, idx := range m.Indices {
			packed = protowire.AppendVarint(packed, uint64(idx))
		}
		b = protowire.AppendTag(b, fieldIndices, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}

	return encoder.EncodeAll(b, nil)
}

func appendVec3s(b []byte, num protowire.Number, vs []mgl32.Vec3) []byte {
	if len(vs) == 0 {
		return b
	}

	packed := make([]byte, 0, len(vs)*12)
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v[0]))
		packed = protowire.AppendFixed32(packed, math.Float32bits(v[1]))
		packed = protowire.AppendFixed32(packed, math.Float32bits(v[2]))
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// Decode parses bytes produced by Encode. Unknown fields are skipped.
func Decode(data []byte) (models.MeshData, error) {
	b, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return models.MeshData{}, errors.New("decompressing mesh failed").
			WithType(ErrTypeMalformedMesh).
			Wrap(err)
	}

	var m models.MeshData
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return models.MeshData{}, malformed(n)
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return models.MeshData{}, malformed(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return models.MeshData{}, malformed(n)
		}
		b = b[n:]

		switch num {
		case fieldPositions:
			m.Positions, err = consumeVec3s(v)
		case fieldNormals:
			m.Normals, err = consumeVec3s(v)
		case fieldUVs:
			m.UVs, err = consumeVec2s(v)
		case fieldIndices:
			m.Indices, err = consumeIndices(v)
		}
		if err != nil {
			return models.MeshData{}, err
		}
	}
	return m, nil
}

func consumeFloats(b []byte, dst []float32) ([]byte, error) {
	for i := range dst {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, malformed(n)
		}
		dst[i] = math.Float32frombits(v)
		b = b[n:]
	}
	return b, nil
}

func consumeVec3s(b []byte) ([]mgl32.Vec3, error) {
	if len(b)%12 != 0 {
		return nil, errors.New("truncated vec3 field").
			WithType(ErrTypeMalformedMesh).
			WithTag("len", len(b))
	}

	vs := make([]mgl32.Vec3, len(b)/12)
	for i := range vs {
		var err error
		if b, err = consumeFloats(b, vs[i][:]); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func consumeVec2s(b []byte) ([]mgl32.Vec2, error) {
	if len(b)%8 != 0 {
		return nil, errors.New("truncated vec2 field").
			WithType(ErrTypeMalformedMesh).
			WithTag("len", len(b))
	}

	vs := make([]mgl32.Vec2, len(b)/8)
	for i := range vs {
		var err error
		if b, err = consumeFloats(b, vs[i][:]); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func consumeIndices(b []byte) ([]uint32, error) {
	var indices []uint32
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, malformed(n)
		}
		if v > math.MaxUint32 {
			return nil, errors.New("index out of range").
				WithType(ErrTypeMalformedMesh).
				WithTag("index", v)
		}
		indices = append(indices, uint32(v))
		b = b[n:]
	}
	return indices, nil
}

func malformed(n int) error {
	return errors.New("parsing mesh failed").
		WithType(ErrTypeMalformedMesh).
		Wrap(protowire.ParseError(n))
}
