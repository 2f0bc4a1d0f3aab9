// Package lowbandwidth exposes an operator HTTP surface in front of a
// commissioner.Commissioner: dataset inspection, session state and
// Petition/Resign control, transparently negotiating CBOR or JSON
// the same way the teacher's CBORToJSONHandler does for the Matrix
// low-bandwidth Client-Server API, repointed at this domain's dataset
// fields instead of Matrix event fields.
package lowbandwidth

import (
	"encoding/hex"

	"github.com/openthread/commissioner-core/tlv"
)

// tlvFieldNames names every dataset TLV this bridge exposes over HTTP,
// matching cborbridge's datasetFieldKeys table so a CBOR-negotiating
// client sees the same field names either way.
var tlvFieldNames = map[tlv.Type]string{
	tlv.TypeChannel:                 "channel",
	tlv.TypePanID:                   "pan_id",
	tlv.TypeExtendedPanID:           "extended_pan_id",
	tlv.TypeNetworkName:             "network_name",
	tlv.TypePSKc:                    "pskc",
	tlv.TypeNetworkKey:              "network_master_key",
	tlv.TypeNetworkMeshLocalPrefix:  "mesh_local_prefix",
	tlv.TypeSteeringData:            "steering_data",
	tlv.TypeBorderAgentLocator:      "border_agent_locator",
	tlv.TypeCommissionerID:          "commissioner_id",
	tlv.TypeCommissionerSessionID:   "commissioner_session_id",
	tlv.TypeSecurityPolicy:          "security_policy",
	tlv.TypeState:                   "state",
	tlv.TypeActiveTimestamp:         "active_timestamp",
	tlv.TypePendingTimestamp:        "pending_timestamp",
	tlv.TypeDelayTimer:              "delay_timer",
	tlv.TypeChannelMask:             "channel_mask",
	tlv.TypeProvisioningURL:         "provisioning_url",
}

// numericFields are rendered as a JSON number (big-endian unsigned) rather
// than a hex string; every other known field renders as hex, since most
// dataset TLVs (PSKc, steering data, mesh-local prefix, ...) are opaque
// byte blobs with no meaningful numeric interpretation.
var numericFields = map[tlv.Type]bool{
	tlv.TypeChannel:               true,
	tlv.TypePanID:                 true,
	tlv.TypeCommissionerSessionID: true,
	tlv.TypeBorderAgentLocator:    true,
	tlv.TypeState:                 true,
	tlv.TypeActiveTimestamp:       true,
	tlv.TypePendingTimestamp:      true,
	tlv.TypeDelayTimer:            true,
	tlv.TypeChannelMask:           true,
}

// setToJSON converts a dataset TLV set into the map the HTTP/CBOR bridge
// serializes: known fields by name, unrecognized TLV types by their
// type number as a two-digit hex string, numeric fields as numbers and
// everything else as a hex string.
func setToJSON(set tlv.Set) map[string]interface{} {
	out := make(map[string]interface{}, len(set))
	for _, t := range set {
		key, ok := tlvFieldNames[t.Type]
		if !ok {
			key = hex.EncodeToString([]byte{byte(t.Type)})
		}
		if numericFields[t.Type] {
			out[key] = beUint(t.Value)
		} else {
			out[key] = hex.EncodeToString(t.Value)
		}
	}
	return out
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// jsonToSet is setToJSON's inverse, used when an operator PUTs a dataset
// as JSON/CBOR. Values for known numeric fields are read back as a JSON
// number; everything else is read as a hex string.
func jsonToSet(m map[string]interface{}) (tlv.Set, error) {
	byName := make(map[string]tlv.Type, len(tlvFieldNames))
	for t, name := range tlvFieldNames {
		byName[name] = t
	}

	var set tlv.Set
	for k, v := range m {
		t, ok := byName[k]
		if !ok {
			continue // unrecognized field name: silently dropped, not fatal
		}
		var value []byte
		if numericFields[t] {
			n, ok := v.(float64)
			if !ok {
				continue
			}
			value = uintBytesFor(t, uint64(n))
		} else {
			s, ok := v.(string)
			if !ok {
				continue
			}
			b, err := hex.DecodeString(s)
			if err != nil {
				continue
			}
			value = b
		}
		set = append(set, tlv.TLV{Type: t, Value: value})
	}
	return set, nil
}

// uintBytesFor renders v in the byte width the Thread 1.2 spec fixes for
// each numeric TLV type (1 byte for Channel/State, 2 for PAN ID/Session ID/
// BA Locator, 4 for the timers).
func uintBytesFor(t tlv.Type, v uint64) []byte {
	switch t {
	case tlv.TypeChannel, tlv.TypeState:
		return []byte{byte(v)}
	case tlv.TypePanID, tlv.TypeCommissionerSessionID, tlv.TypeBorderAgentLocator:
		return []byte{byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}
