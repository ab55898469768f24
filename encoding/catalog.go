package encoding

import (
	"bytes"
	"io"
)

// Encodable is satisfied by every concrete packet type's generated Encode method.
type Encodable interface {
	Encode(w io.Writer) error
}

// DecodePacket reads one complete MQTT control packet from r for the given protocol
// version and returns the concrete packet value alongside its fixed header. The
// concrete type depends on both fh.Type and version: callers type-switch on the result.
func DecodePacket(r io.Reader, version ProtocolVersion) (Encodable, *FixedHeader, error) {
	fh, err := ParseFixedHeaderWithVersion(r, version)
	if err != nil {
		return nil, nil, err
	}

	pkt, err := decodeBody(r, fh, version)
	if err != nil {
		return nil, fh, err
	}
	return pkt, fh, nil
}

func decodeBody(r io.Reader, fh *FixedHeader, version ProtocolVersion) (Encodable, error) {
	if version == ProtocolVersion50 {
		return decodeBody50(r, fh)
	}
	return decodeBody311(r, fh)
}

func decodeBody50(r io.Reader, fh *FixedHeader) (Encodable, error) {
	switch fh.Type {
	case CONNECT:
		return ParseConnectPacket(r, fh)
	case CONNACK:
		return ParseConnackPacket(r, fh)
	case PUBLISH:
		return ParsePublishPacket(r, fh)
	case PUBACK:
		return ParsePubackPacket(r, fh)
	case PUBREC:
		return ParsePubrecPacket(r, fh)
	case PUBREL:
		return ParsePubrelPacket(r, fh)
	case PUBCOMP:
		return ParsePubcompPacket(r, fh)
	case SUBSCRIBE:
		return ParseSubscribePacket(r, fh)
	case SUBACK:
		return ParseSubackPacket(r, fh)
	case UNSUBSCRIBE:
		return ParseUnsubscribePacket(r, fh)
	case UNSUBACK:
		return ParseUnsubackPacket(r, fh)
	case PINGREQ:
		return ParsePingreqPacket(fh)
	case PINGRESP:
		return ParsePingrespPacket(fh)
	case DISCONNECT:
		return ParseDisconnectPacket(r, fh)
	case AUTH:
		return ParseAuthPacket(r, fh)
	default:
		return nil, ErrInvalidType
	}
}

func decodeBody311(r io.Reader, fh *FixedHeader) (Encodable, error) {
	switch fh.Type {
	case CONNECT:
		return ParseConnectPacket311(r, fh)
	case CONNACK:
		return ParseConnackPacket311(r, fh)
	case PUBLISH:
		return ParsePublishPacket311(r, fh)
	case PUBACK:
		return ParsePubackPacket311(r, fh)
	case PUBREC:
		return ParsePubrecPacket311(r, fh)
	case PUBREL:
		return ParsePubrelPacket311(r, fh)
	case PUBCOMP:
		return ParsePubcompPacket311(r, fh)
	case SUBSCRIBE:
		return ParseSubscribePacket311(r, fh)
	case SUBACK:
		return ParseSubackPacket311(r, fh)
	case UNSUBSCRIBE:
		return ParseUnsubscribePacket311(r, fh)
	case UNSUBACK:
		return ParseUnsubackPacket311(r, fh)
	case PINGREQ:
		return ParsePingreqPacket(fh)
	case PINGRESP:
		return ParsePingrespPacket(fh)
	case DISCONNECT:
		return ParseDisconnectPacket311(r, fh)
	default:
		return nil, ErrInvalidType
	}
}

// EncodePacket writes pkt to w using its own Encode method. It exists so callers that
// only hold an Encodable (e.g. the broker's outbound path, which doesn't know or care
// whether it's re-sending a decoded packet or one it built itself) have a single call site.
func EncodePacket(w io.Writer, pkt Encodable) error {
	return pkt.Encode(w)
}

// droppableOnOversize lists the PUBLISH properties that MaximumPacketSize pressure can
// shed without changing delivery semantics: the subscriber still gets the payload, just
// without the diagnostic/alias trimmings. Order is drop-priority, least useful first.
var droppableOnOversize = []PropertyID{
	PropUserProperty,
	PropReasonString,
	PropResponseTopic,
	PropCorrelationData,
	PropContentType,
}

// EncodePublishWithinLimit encodes pkt, and if the result exceeds maxSize, re-encodes
// with properties dropped (in droppableOnOversize order) until it fits or nothing more
// can be dropped. A maxSize of 0 means no limit (the MQTT 5.0 default when the peer
// never sent Maximum Packet Size). Returns the encoded bytes so the caller can hand them
// to a connection write without re-running the size check.
func EncodePublishWithinLimit(pkt *PublishPacket, maxSize uint32) ([]byte, error) {
	var buf bytes.Buffer
	if err := pkt.Encode(&buf); err != nil {
		return nil, err
	}
	if maxSize == 0 || uint32(buf.Len()) <= maxSize {
		return buf.Bytes(), nil
	}

	trimmed := *pkt
	trimmed.Properties = Properties{Properties: append([]Property(nil), pkt.Properties.Properties...)}

	for _, id := range droppableOnOversize {
		trimmed.Properties.Properties = removeProperty(trimmed.Properties.Properties, id)

		buf.Reset()
		if err := trimmed.Encode(&buf); err != nil {
			return nil, err
		}
		if uint32(buf.Len()) <= maxSize {
			return buf.Bytes(), nil
		}
	}

	return nil, ErrPayloadTooLarge
}

func removeProperty(props []Property, id PropertyID) []Property {
	out := props[:0]
	for _, p := range props {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
