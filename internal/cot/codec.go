package cot

import "errors"

// ErrUnsupportedCodec is returned by a FrameCodec that cannot serialize a
// given event, e.g. the protobuf stub codec (see SPEC_FULL.md open
// question decisions).
var ErrUnsupportedCodec = errors.New("cot: codec does not support this frame format")

// FrameCodec turns an Event into on-the-wire bytes (spec.md §9 open
// question: "whether CoT frames may be delivered via a binary TAK protobuf
// on some servers"). No Persistent Connection holds a codec; the Stream
// Worker calls Event.MarshalXML directly.
type FrameCodec interface {
	// Name identifies the codec for logging/metrics.
	Name() string

	// Encode serializes one event to a frame. No framing (e.g. a length
	// prefix) is added, here or by takconn, which writes the bytes as-is.
	Encode(e *Event) ([]byte, error)
}

// XMLCodec is the default, fully-implemented codec (spec.md §6).
type XMLCodec struct{}

func (XMLCodec) Name() string { return "cot-xml" }

func (XMLCodec) Encode(e *Event) ([]byte, error) {
	return e.MarshalXML()
}

// ProtobufCodec is a negotiation placeholder: spec.md explicitly leaves the
// TAK protobuf wire format as implementation-defined and does not mandate a
// discovery mechanism. Nothing selects it at connection setup, and Encode
// always returns ErrUnsupportedCodec.
type ProtobufCodec struct{}

func (ProtobufCodec) Name() string { return "cot-protobuf" }

func (ProtobufCodec) Encode(*Event) ([]byte, error) {
	return nil, ErrUnsupportedCodec
}
