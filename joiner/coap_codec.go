package joiner

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"github.com/openthread/commissioner-core/commerr"
)

// The JOIN_FIN exchange runs inside a per-joiner relayed DTLS tunnel that
// is never shared with any other traffic and lives only for the duration
// of one handshake, so it gets its own minimal CoAP codec instead of a
// full go-coap client/server (those model a long-lived multiplexed UDP
// socket, which this single-shot relayed tunnel isn't).

type coapMsgType uint8

const (
	msgConfirmable    coapMsgType = 0
	msgNonConfirmable coapMsgType = 1
	msgAcknowledgement coapMsgType = 2
)

type coapCode uint8

const (
	codePost    coapCode = 0x02
	codeChanged coapCode = 0x44
	codeBadReq  coapCode = 0x80
)

const uriPathOption = 11

type coapMessage struct {
	Type    coapMsgType
	Code    coapCode
	ID      uint16
	Token   []byte
	Path    string
	Payload []byte
}

func newToken() []byte {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return b
}

func newMessageID() uint16 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

// encode serializes m as a single CoAP-over-UDP message (RFC 7252 §3):
// 4-byte fixed header, token, Uri-Path option(s), 0xFF payload marker,
// payload.
func (m coapMessage) encode() []byte {
	tkl := len(m.Token)
	buf := []byte{byte(1<<6 | uint8(m.Type)<<4 | uint8(tkl)), byte(m.Code)}
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], m.ID)
	buf = append(buf, id[:]...)
	buf = append(buf, m.Token...)

	delta := uriPathOption
	for _, seg := range strings.Split(strings.Trim(m.Path, "/"), "/") {
		if seg == "" {
			continue
		}
		buf = append(buf, encodeOptionHeader(delta, len(seg))...)
		buf = append(buf, seg...)
		delta = 0
	}
	if len(m.Payload) > 0 {
		buf = append(buf, 0xFF)
		buf = append(buf, m.Payload...)
	}
	return buf
}

func encodeOptionHeader(delta, length int) []byte {
	d, dExt := splitNibble(delta)
	l, lExt := splitNibble(length)
	out := []byte{byte(d<<4 | l)}
	out = append(out, dExt...)
	out = append(out, lExt...)
	return out
}

func splitNibble(v int) (int, []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-269))
		return 14, ext
	}
}

// decode parses a single CoAP-over-UDP message. Option parsing only tracks
// option number well enough to know when the Uri-Path option(s) end and to
// skip any option this exchange doesn't care about (Content-Format), since
// the only structured content here is the TLV payload.
func decode(b []byte) (coapMessage, error) {
	if len(b) < 4 {
		return coapMessage{}, commerr.New(commerr.BadFormat, "joiner: truncated CoAP header")
	}
	tkl := int(b[0] & 0x0F)
	m := coapMessage{
		Type: coapMsgType((b[0] >> 4) & 0x03),
		Code: coapCode(b[1]),
		ID:   binary.BigEndian.Uint16(b[2:4]),
	}
	i := 4
	if tkl > 0 {
		if i+tkl > len(b) {
			return coapMessage{}, commerr.New(commerr.BadFormat, "joiner: truncated token")
		}
		m.Token = append([]byte(nil), b[i:i+tkl]...)
		i += tkl
	}

	optNum := 0
	var pathSegs []string
	for i < len(b) && b[i] != 0xFF {
		delta, length, n := decodeOptionHeader(b[i:])
		i += n
		if i+length > len(b) {
			return coapMessage{}, commerr.New(commerr.BadFormat, "joiner: truncated option value")
		}
		optNum += delta
		if optNum == uriPathOption {
			pathSegs = append(pathSegs, string(b[i:i+length]))
		}
		i += length
	}
	m.Path = "/" + strings.Join(pathSegs, "/")
	if i < len(b) && b[i] == 0xFF {
		m.Payload = append([]byte(nil), b[i+1:]...)
	}
	return m, nil
}

func decodeOptionHeader(b []byte) (delta, length, consumed int) {
	first := b[0]
	delta = int(first >> 4)
	length = int(first & 0x0F)
	consumed = 1
	if delta == 13 {
		delta = 13 + int(b[consumed])
		consumed++
	} else if delta == 14 {
		delta = 269 + int(binary.BigEndian.Uint16(b[consumed:consumed+2]))
		consumed += 2
	}
	if length == 13 {
		length = 13 + int(b[consumed])
		consumed++
	} else if length == 14 {
		length = 269 + int(binary.BigEndian.Uint16(b[consumed:consumed+2]))
		consumed += 2
	}
	return delta, length, consumed
}
