package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf encodes proto messages deterministically, so a message re-encoded
// after a round trip keeps its etag. New returns an empty message to decode into,
// e.g. func() *mypb.Widget { return &mypb.Widget{} }.
type Protobuf[T proto.Message] struct {
	New func() T
	// DiscardUnknown drops fields written by newer schema versions.
	DiscardUnknown bool
}

var errNoCtor = errors.New("codec: protobuf codec without New")

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{New: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.New == nil {
		var zero T
		return zero, errNoCtor
	}
	m := c.New()
	err := proto.UnmarshalOptions{DiscardUnknown: c.DiscardUnknown}.Unmarshal(b, m)
	return m, err
}
