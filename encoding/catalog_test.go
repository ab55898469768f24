package encoding

import (
	"bytes"
	"testing"
)

func TestDecodePacketDispatchesByVersion(t *testing.T) {
	var buf bytes.Buffer
	src := &PublishPacket311{
		FixedHeader: FixedHeader{Type: PUBLISH, QoS: QoS1},
		TopicName:   "a/b",
		PacketID:    3,
		Payload:     []byte("hi"),
	}
	if err := src.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	pkt, fh, err := DecodePacket(&buf, ProtocolVersion311)
	if err != nil {
		t.Fatalf("DecodePacket() error = %v", err)
	}
	if fh.Type != PUBLISH {
		t.Fatalf("fh.Type = %v, want PUBLISH", fh.Type)
	}
	got, ok := pkt.(*PublishPacket311)
	if !ok {
		t.Fatalf("DecodePacket() returned %T, want *PublishPacket311", pkt)
	}
	if got.TopicName != src.TopicName || !bytes.Equal(got.Payload, src.Payload) {
		t.Errorf("got %+v, want %+v", got, src)
	}
}

func TestDecodePacketV5(t *testing.T) {
	var buf bytes.Buffer
	src := &PingreqPacket{FixedHeader: FixedHeader{Type: PINGREQ}}
	if err := src.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	pkt, fh, err := DecodePacket(&buf, ProtocolVersion50)
	if err != nil {
		t.Fatalf("DecodePacket() error = %v", err)
	}
	if fh.Type != PINGREQ {
		t.Fatalf("fh.Type = %v, want PINGREQ", fh.Type)
	}
	if _, ok := pkt.(*PingreqPacket); !ok {
		t.Fatalf("DecodePacket() returned %T, want *PingreqPacket", pkt)
	}
}

func TestEncodePublishWithinLimit_NoLimit(t *testing.T) {
	pkt := &PublishPacket{
		FixedHeader: FixedHeader{Type: PUBLISH, QoS: QoS0},
		TopicName:   "a/b",
		Payload:     []byte("hello"),
	}
	data, err := EncodePublishWithinLimit(pkt, 0)
	if err != nil {
		t.Fatalf("EncodePublishWithinLimit() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty encoding")
	}
}

func TestEncodePublishWithinLimit_DropsProperties(t *testing.T) {
	pkt := &PublishPacket{
		FixedHeader: FixedHeader{Type: PUBLISH, QoS: QoS0},
		TopicName:   "a/b",
		Payload:     []byte("x"),
		Properties: Properties{Properties: []Property{
			{ID: PropUserProperty, Value: UTF8Pair{Key: "key", Value: "value-that-is-somewhat-long-to-pad-size"}},
			{ID: PropReasonString, Value: "also somewhat long reason string to pad size further"},
		}},
	}

	var full bytes.Buffer
	if err := pkt.Encode(&full); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	limit := uint32(full.Len() - 1)
	data, err := EncodePublishWithinLimit(pkt, limit)
	if err != nil {
		t.Fatalf("EncodePublishWithinLimit() error = %v", err)
	}
	if uint32(len(data)) > limit {
		t.Errorf("encoded size %d exceeds limit %d", len(data), limit)
	}
}

func TestEncodePublishWithinLimit_Unshrinkable(t *testing.T) {
	pkt := &PublishPacket{
		FixedHeader: FixedHeader{Type: PUBLISH, QoS: QoS0},
		TopicName:   "a/b",
		Payload:     bytes.Repeat([]byte("x"), 100),
	}
	if _, err := EncodePublishWithinLimit(pkt, 5); err != ErrPayloadTooLarge {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}
