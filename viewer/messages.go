package viewer

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/models"
	"github.com/aukilabs/terrain/render"
	"github.com/aukilabs/terrain/terrain"
)

const (
	// ErrTypeMalformedMsg is the error type returned when a viewer message
	// cannot be decoded.
	ErrTypeMalformedMsg = "malformed-msg"

	// ErrTypeMsgSkip is the error type returned when a message is
	// deliberately ignored.
	ErrTypeMsgSkip = "msg-skip"

	// ErrTypeSlowViewer is the error type used to disconnect a viewer that
	// does not keep up with world events.
	ErrTypeSlowViewer = "slow-viewer"
)

// MsgType is the type of a viewer message.
type MsgType string

const (
	MsgTypeHello   MsgType = "hello"
	MsgTypePing    MsgType = "ping"
	MsgTypePong    MsgType = "pong"
	MsgTypeCamera  MsgType = "camera"
	MsgTypeSpawn   MsgType = "spawn"
	MsgTypeDespawn MsgType = "despawn"
	MsgTypeStats   MsgType = "stats"
	MsgTypeError   MsgType = "error"

	// The type of binary frames carrying chunk meshes.
	MsgTypeMesh MsgType = "mesh"
)

// Msg is a JSON message exchanged in text frames.
type Msg struct {
	Type      MsgType        `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID uint32         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Camera    *mgl32.Vec3    `json:"camera,omitempty"`
	Chunk     *ChunkInfo     `json:"chunk,omitempty"`
	Stats     *terrain.Stats `json:"stats,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ChunkInfo describes a spawned or despawned chunk.
type ChunkInfo struct {
	Handle       render.Handle `json:"handle"`
	RegionID     uint64        `json:"region_id"`
	Coords       [2]int32      `json:"coords"`
	Depth        uint8         `json:"depth"`
	Subdivisions uint32        `json:"subdivisions"`
	Translation  mgl32.Vec3    `json:"translation"`
	Triangles    int           `json:"triangles,omitempty"`
}

// ChunkInfoOf returns the description of a chunk.
func ChunkInfoOf(c render.Chunk) *ChunkInfo {
	return &ChunkInfo{
		Handle:       c.Handle,
		RegionID:     c.Meta.RegionID,
		Coords:       c.Meta.Coords,
		Depth:        c.Meta.Depth,
		Subdivisions: c.Meta.Subdivisions,
		Translation:  c.Placement.Translation,
		Triangles:    c.Mesh.TriangleCount(),
	}
}

// Frame is a websocket frame ready to be sent.
type Frame struct {
	Type        MsgType
	PayloadType byte
	Data        []byte
}

// TextFrame encodes a message as a text frame.
func TextFrame(msg Msg) (Frame, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, errors.New("encoding message failed").
			WithTag("msg_type", msg.Type).
			Wrap(err)
	}

	return Frame{
		Type:        msg.Type,
		PayloadType: websocket.TextFrame,
		Data:        data,
	}, nil
}

// MeshFrame encodes the mesh of a chunk as a binary frame.
func MeshFrame(c render.Chunk) Frame {
	return Frame{
		Type:        MsgTypeMesh,
		PayloadType: websocket.BinaryFrame,
		Data:        EncodeMesh(c.Handle, c.Meta.RegionID, c.Mesh),
	}
}

// DecodeMsg decodes a text frame.
func DecodeMsg(f Frame) (Msg, error) {
	if f.PayloadType != websocket.TextFrame {
		return Msg{}, errors.New("unexpected binary frame").
			WithType(ErrTypeMalformedMsg).
			WithTag("size", len(f.Data))
	}

	var msg Msg
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		return Msg{}, errors.New("decoding message failed").
			WithType(ErrTypeMalformedMsg).
			Wrap(err)
	}
	return msg, nil
}

// frameCodec sends and receives frames while keeping their payload type.
var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		f := v.(Frame)
		return f.Data, f.PayloadType, nil
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		f := v.(*Frame)
		f.PayloadType = payloadType
		f.Data = data
		if payloadType == websocket.BinaryFrame {
			f.Type = MsgTypeMesh
		}
		return nil
	},
}

const (
	fieldHandle   protowire.Number = 1
	fieldRegionID protowire.Number = 2
	fieldMesh     protowire.Number = 3
)

// EncodeMesh returns the payload of a binary mesh frame.
func EncodeMesh(h render.Handle, regionID uint64, m models.MeshData) []byte {
	encoded := mesh.Encode(m)

	b := make([]byte, 0, len(encoded)+24)
	b = protowire.AppendTag(b, fieldHandle, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h))
	b = protowire.AppendTag(b, fieldRegionID, protowire.VarintType)
	b = protowire.AppendVarint(b, regionID)
	b = protowire.AppendTag(b, fieldMesh, protowire.BytesType)
	return protowire.AppendBytes(b, encoded)
}

// DecodeMesh parses the payload of a binary mesh frame.
func DecodeMesh(b []byte) (render.Handle, uint64, models.MeshData, error) {
	var (
		h        render.Handle
		regionID uint64
		m        models.MeshData
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, models.MeshData{}, malformedMesh(n)
		}
		b = b[n:]

		switch {
		case num == fieldHandle && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, 0, models.MeshData{}, malformedMesh(n)
			}
			h = render.Handle(v)
			b = b[n:]

		case num == fieldRegionID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, 0, models.MeshData{}, malformedMesh(n)
			}
			regionID = v
			b = b[n:]

		case num == fieldMesh && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, 0, models.MeshData{}, malformedMesh(n)
			}
			b = b[n:]

			var err error
			if m, err = mesh.Decode(v); err != nil {
				return 0, 0, models.MeshData{}, err
			}

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, 0, models.MeshData{}, malformedMesh(n)
			}
			b = b[n:]
		}
	}
	return h, regionID, m, nil
}

func malformedMesh(n int) error {
	return errors.New("parsing mesh frame failed").
		WithType(ErrTypeMalformedMsg).
		Wrap(protowire.ParseError(n))
}
