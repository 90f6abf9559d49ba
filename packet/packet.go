// Package packet implements the Pigweed-RPC packet envelope: encoding and
// decoding of the RpcPacket protocol-buffer message carried inside each
// HDLC U-frame, and the service/method identifier hash.
//
// There is no generated .pb.go for this envelope: the field table is small
// and fixed, so it is encoded and decoded directly against
// google.golang.org/protobuf/encoding/protowire — the same primitives
// generated code would itself call.
package packet

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PacketType enumerates the envelope's packet_type field. Values match the
// Pigweed RPC wire protocol.
type PacketType int32

const (
	Request         PacketType = 0
	Response        PacketType = 1
	ServerStream    PacketType = 2
	ClientStream    PacketType = 3
	ClientError     PacketType = 4
	ServerError     PacketType = 5
	Cancel          PacketType = 6
	ClientStreamEnd PacketType = 7
)

func (t PacketType) String() string {
	switch t {
	case Request:
		return "REQUEST"
	case Response:
		return "RESPONSE"
	case ServerStream:
		return "SERVER_STREAM"
	case ClientStream:
		return "CLIENT_STREAM"
	case ClientError:
		return "CLIENT_ERROR"
	case ServerError:
		return "SERVER_ERROR"
	case Cancel:
		return "CANCEL"
	case ClientStreamEnd:
		return "CLIENT_STREAM_END"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// field tags for the envelope message.
const (
	fieldType      = protowire.Number(1)
	fieldChannelID = protowire.Number(2)
	fieldServiceID = protowire.Number(3)
	fieldMethodID  = protowire.Number(4)
	fieldPayload   = protowire.Number(5)
	fieldStatus    = protowire.Number(6)
	fieldCallID    = protowire.Number(7)
)

// RpcPacket is the decoded envelope carried inside each HDLC U-frame.
type RpcPacket struct {
	Type      PacketType
	ChannelID uint32
	ServiceID uint32
	MethodID  uint32
	// Payload is nil when the field is absent on the wire, and non-nil
	// (possibly zero-length) when present — some terminal responses carry
	// an explicit empty payload and must round-trip that distinction.
	Payload []byte
	Status  uint32
	CallID  uint32

	// Unknown holds the raw wire bytes of any fields this decoder did not
	// recognize, preserved verbatim so a newer peer's additions survive a
	// round trip through this client.
	Unknown []byte
}

// RawFields returns the raw wire bytes of any fields this decoder did not
// recognize when the packet was unmarshaled, tag included.
func (p *RpcPacket) RawFields() []byte {
	return p.Unknown
}

// Marshal encodes the packet as a protocol-buffer message. Zero-valued
// scalar fields are omitted, matching proto3 wire semantics.
func (p *RpcPacket) Marshal() []byte {
	var b []byte

	if p.Type != Request {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Type))
	}
	if p.ChannelID != 0 {
		b = protowire.AppendTag(b, fieldChannelID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.ChannelID))
	}
	if p.ServiceID != 0 {
		b = protowire.AppendTag(b, fieldServiceID, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.ServiceID)
	}
	if p.MethodID != 0 {
		b = protowire.AppendTag(b, fieldMethodID, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.MethodID)
	}
	if p.Payload != nil {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Payload)
	}
	if p.Status != 0 {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Status))
	}
	if p.CallID != 0 {
		b = protowire.AppendTag(b, fieldCallID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.CallID))
	}

	b = append(b, p.Unknown...)
	return b
}

// Unmarshal decodes a protocol-buffer-encoded envelope. Unknown fields are
// tolerated and preserved (not interpreted) rather than rejected.
func Unmarshal(data []byte) (RpcPacket, error) {
	var p RpcPacket

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return RpcPacket{}, fmt.Errorf("packet: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid type field: %w", protowire.ParseError(m))
			}
			p.Type = PacketType(v)
			data = data[m:]

		case num == fieldChannelID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid channel_id field: %w", protowire.ParseError(m))
			}
			p.ChannelID = uint32(v)
			data = data[m:]

		case num == fieldServiceID && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid service_id field: %w", protowire.ParseError(m))
			}
			p.ServiceID = v
			data = data[m:]

		case num == fieldMethodID && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid method_id field: %w", protowire.ParseError(m))
			}
			p.MethodID = v
			data = data[m:]

		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid payload field: %w", protowire.ParseError(m))
			}
			p.Payload = append([]byte{}, v...)
			data = data[m:]

		case num == fieldStatus && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid status field: %w", protowire.ParseError(m))
			}
			p.Status = uint32(v)
			data = data[m:]

		case num == fieldCallID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid call_id field: %w", protowire.ParseError(m))
			}
			p.CallID = uint32(v)
			data = data[m:]

		default:
			// Unknown field (or a newer encoding of a known one): keep the
			// original bytes, including the tag, so they round-trip.
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return RpcPacket{}, fmt.Errorf("packet: invalid field %d: %w", num, protowire.ParseError(m))
			}
			raw := protowire.AppendTag(nil, num, typ)
			raw = append(raw, data[:m]...)
			p.Unknown = append(p.Unknown, raw...)
			data = data[m:]
		}
	}

	return p, nil
}
