// Package tlv implements the MeshCoP type-length-value wire format:
// type(1) | length(1 or 3) | value(length). A length byte of 0xFF
// introduces a 2-byte big-endian extended length; extended form is only
// legal for values that do not fit in the short form, so canonical
// decoding rejects an extended length of 254 or less.
package tlv

import (
	"encoding/binary"

	"github.com/openthread/commissioner-core/commerr"
)

const (
	extendedLengthMarker = 0xFF
	maxShortLength       = 0xFE
)

// TLV is a single decoded record.
type TLV struct {
	Type  Type
	Value []byte
}

// Set is an ordered collection of TLVs. Duplicates of the same Type are
// permitted where the protocol allows it (e.g. repeated Channel Mask
// entries); Get returns the first match and GetAll returns every match.
type Set []TLV

// Get returns the first TLV of the given type.
func (s Set) Get(t Type) (TLV, bool) {
	for _, e := range s {
		if e.Type == t {
			return e, true
		}
	}
	return TLV{}, false
}

// GetAll returns every TLV of the given type, preserving order.
func (s Set) GetAll(t Type) []TLV {
	var out []TLV
	for _, e := range s {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Filter returns the subset of s for which keep returns true, preserving
// order.
func (s Set) Filter(keep func(TLV) bool) Set {
	var out Set
	for _, e := range s {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// SortedByType returns a copy of s sorted by ascending Type, using a stable
// sort so TLVs that share a type keep their relative order. This is the
// ordering the Token Manager's signing-content canonicalization requires.
func (s Set) SortedByType() Set {
	out := make(Set, len(s))
	copy(out, s)
	// insertion sort: TLV sets are small (a handful of dataset fields),
	// and stability matters more than asymptotic complexity here.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Type > out[j].Type; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Encode concatenates every TLV in s in order.
func Encode(s Set) ([]byte, error) {
	var out []byte
	for _, e := range s {
		b, err := encodeOne(e)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func encodeOne(e TLV) ([]byte, error) {
	n := len(e.Value)
	if n > 0xFFFF {
		return nil, commerr.New(commerr.InvalidArgs, "tlv: value too large to encode")
	}
	if n <= maxShortLength {
		buf := make([]byte, 2+n)
		buf[0] = byte(e.Type)
		buf[1] = byte(n)
		copy(buf[2:], e.Value)
		return buf, nil
	}
	buf := make([]byte, 4+n)
	buf[0] = byte(e.Type)
	buf[1] = extendedLengthMarker
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	copy(buf[4:], e.Value)
	return buf, nil
}

// Decode streams b into a Set until exhaustion. It fails with BadFormat on
// truncated length/value fields or on a non-canonical length encoding
// (extended length marker followed by a value that fits in the short
// form).
func Decode(b []byte) (Set, error) {
	var out Set
	i := 0
	for i < len(b) {
		if i+2 > len(b) {
			return nil, commerr.New(commerr.BadFormat, "tlv: truncated header")
		}
		t := Type(b[i])
		lenByte := b[i+1]
		i += 2

		var n int
		if lenByte == extendedLengthMarker {
			if i+2 > len(b) {
				return nil, commerr.New(commerr.BadFormat, "tlv: truncated extended length")
			}
			n = int(binary.BigEndian.Uint16(b[i : i+2]))
			i += 2
			if n <= maxShortLength {
				return nil, commerr.New(commerr.BadFormat, "tlv: non-canonical extended length")
			}
		} else {
			n = int(lenByte)
		}

		if i+n > len(b) {
			return nil, commerr.New(commerr.BadFormat, "tlv: truncated value")
		}
		value := make([]byte, n)
		copy(value, b[i:i+n])
		i += n

		out = append(out, TLV{Type: t, Value: value})
	}
	return out, nil
}
