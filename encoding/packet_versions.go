package encoding

import (
	"errors"
	"io"
)

// EncodeFixedHeader validates and encodes an MQTT 5.0 fixed header.
// PUBLISH flags are recomputed from DUP/QoS/Retain rather than trusting Flags.
func (h *FixedHeader) EncodeFixedHeader(w io.Writer) error {
	flags, err := h.validatedFlags(AUTH)
	if err != nil {
		return err
	}

	if err := writeByte(w, byte(h.Type)<<4|flags); err != nil {
		return err
	}

	encoded, err := EncodeVariableByteInteger(h.RemainingLength)
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}

// EncodeFixedHeaderToBytes validates and encodes an MQTT 5.0 fixed header into buf,
// returning the number of bytes written.
func (h *FixedHeader) EncodeFixedHeaderToBytes(buf []byte) (int, error) {
	flags, err := h.validatedFlags(AUTH)
	if err != nil {
		return 0, err
	}

	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}
	buf[0] = byte(h.Type)<<4 | flags

	n, err := EncodeVariableByteIntegerTo(buf, 1, h.RemainingLength)
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

// ParseFixedHeader311 parses an MQTT 3.1/3.1.1 fixed header, which has no AUTH packet type.
func ParseFixedHeader311(r io.Reader) (*FixedHeader, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrUnexpectedEOF
		}
		return nil, err
	}

	header := &FixedHeader{}
	if err := header.decodeFirstByte(buf[0], DISCONNECT); err != nil {
		return nil, err
	}

	remainingLength, err := DecodeVariableByteInteger(r)
	if err != nil {
		return nil, err
	}
	header.RemainingLength = remainingLength

	return header, nil
}

// ParseFixedHeaderFromBytes311 is the byte-slice counterpart of ParseFixedHeader311.
func ParseFixedHeaderFromBytes311(data []byte) (*FixedHeader, int, error) {
	if len(data) < 2 {
		return nil, 0, ErrUnexpectedEOF
	}

	header := &FixedHeader{}
	if err := header.decodeFirstByte(data[0], DISCONNECT); err != nil {
		return nil, 0, err
	}

	remainingLength, bytesRead, err := DecodeVariableByteIntegerFromBytes(data[1:])
	if err != nil {
		return nil, 0, err
	}
	header.RemainingLength = remainingLength

	return header, 1 + bytesRead, nil
}

// EncodeFixedHeader311 validates and encodes an MQTT 3.1/3.1.1 fixed header.
func (h *FixedHeader) EncodeFixedHeader311(w io.Writer) error {
	flags, err := h.validatedFlags(DISCONNECT)
	if err != nil {
		return err
	}

	if err := writeByte(w, byte(h.Type)<<4|flags); err != nil {
		return err
	}

	encoded, err := EncodeVariableByteInteger(h.RemainingLength)
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}

// EncodeFixedHeaderToBytes311 is the zero-allocation byte-slice counterpart of EncodeFixedHeader311.
func (h *FixedHeader) EncodeFixedHeaderToBytes311(buf []byte) (int, error) {
	flags, err := h.validatedFlags(DISCONNECT)
	if err != nil {
		return 0, err
	}

	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}
	buf[0] = byte(h.Type)<<4 | flags

	n, err := EncodeVariableByteIntegerTo(buf, 1, h.RemainingLength)
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

// ParseFixedHeaderWithVersion dispatches to the fixed-header decoder matching version.
func ParseFixedHeaderWithVersion(r io.Reader, version ProtocolVersion) (*FixedHeader, error) {
	switch version {
	case ProtocolVersion50:
		return ParseFixedHeader(r)
	case ProtocolVersion311, ProtocolVersion30:
		return ParseFixedHeader311(r)
	default:
		return nil, ErrInvalidProtocolVersion
	}
}

// EncodeFixedHeaderWithVersion dispatches to the fixed-header encoder matching version.
func (h *FixedHeader) EncodeFixedHeaderWithVersion(w io.Writer, version ProtocolVersion) error {
	switch version {
	case ProtocolVersion50:
		return h.EncodeFixedHeader(w)
	case ProtocolVersion311, ProtocolVersion30:
		return h.EncodeFixedHeader311(w)
	default:
		return ErrInvalidProtocolVersion
	}
}

// ParseFixedHeaderFromBytesWithVersion is the byte-slice counterpart of
// ParseFixedHeaderWithVersion, returning the header plus the number of bytes it consumed.
func ParseFixedHeaderFromBytesWithVersion(data []byte, version ProtocolVersion) (*FixedHeader, int, error) {
	switch version {
	case ProtocolVersion50:
		return ParseFixedHeaderFromBytes(data)
	case ProtocolVersion311, ProtocolVersion30:
		return ParseFixedHeaderFromBytes311(data)
	default:
		return nil, 0, ErrInvalidProtocolVersion
	}
}

// decodeFirstByte extracts type, flags, and (for PUBLISH) DUP/QoS/Retain from the fixed
// header's first byte, rejecting Reserved and anything above maxType.
func (h *FixedHeader) decodeFirstByte(b byte, maxType PacketType) error {
	h.Type = PacketType(b >> 4)
	if h.Type == Reserved {
		return ErrInvalidReservedType
	}
	if h.Type > maxType {
		return ErrInvalidType
	}
	h.Flags = b & 0x0F

	if h.Type == PUBLISH {
		h.DUP = h.Flags&0x08 != 0
		h.QoS = QoS((h.Flags & 0x06) >> 1)
		h.Retain = h.Flags&0x01 != 0
		if !h.QoS.IsValid() {
			return ErrInvalidQoS
		}
		return nil
	}

	return validateFlags(h.Type, h.Flags)
}

// validatedFlags checks Type/Flags against maxType and returns the flags byte to encode,
// recomputing PUBLISH flags from DUP/QoS/Retain rather than trusting h.Flags.
func (h *FixedHeader) validatedFlags(maxType PacketType) (byte, error) {
	if h.Type == Reserved {
		return 0, ErrInvalidReservedType
	}
	if h.Type > maxType {
		return 0, ErrInvalidType
	}

	if h.Type != PUBLISH {
		if err := validateFlags(h.Type, h.Flags); err != nil {
			return 0, err
		}
		return h.Flags, nil
	}

	if !h.QoS.IsValid() {
		return 0, ErrInvalidQoS
	}
	var flags byte
	if h.DUP {
		flags |= 0x08
	}
	flags |= byte(h.QoS) << 1
	if h.Retain {
		flags |= 0x01
	}
	return flags, nil
}
