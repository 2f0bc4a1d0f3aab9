package cborbridge

// datasetFieldKeys maps the JSON field names the operator diagnostics
// surface uses for dataset/session state onto the small integer keys the
// CBOR wire form carries instead, the same role the teacher's
// coapv1pathMappings/v1cborKeyToNum tables play for the Matrix Client-
// Server API, repointed at MeshCoP Active/Pending/Commissioner/BBR
// Dataset fields (tlv.Type names, lowercased) and session metadata.
var datasetFieldKeys = map[string]int{
	"channel":                  1,
	"pan_id":                   2,
	"extended_pan_id":          3,
	"network_name":             4,
	"pskc":                     5,
	"security_policy":          6,
	"active_timestamp":         7,
	"commissioner_id":          8,
	"state":                    9,
	"commissioner_session_id":  10,
	"border_router_locator":    11,
	"joiner_dtls_encapsulation": 12,
	"joiner_udp_port":          13,
	"joiner_iid":               14,
	"joiner_router_locator":    15,
	"joiner_router_kek":        16,
	"network_master_key":       17,
	"pending_timestamp":        18,
	"delay_timer":              19,
	"channel_mask":             20,
	"count":                    21,
	"period":                   22,
	"scan_duration":            23,
	"energy_list":              24,
	"provisioning_url":         25,
	"vendor_name":              26,
	"vendor_model":             27,
	"vendor_sw_version":        28,
	"vendor_data":              29,
	"vendor_stack_version":     30,
	"uri_path_options":         31,
	"commissioner_token":       32,
	"commissioner_signature":   33,
	"unknown":                  34,
	"mesh_local_prefix":        35,
	"steering_data":            36,
	"border_agent_locator":     37,
	"commissioner_udp_port":    38,
	"domain_name":              39,
	"domain_timestamp":         52,
	"channel_mask_page0":       53,

	"session_state":     100,
	"session_id":         101,
	"is_ccm_mode":        102,
	"keep_alive_interval": 103,
	"joiner_sessions":    104,
	"existing_commissioner_id": 105,
}

// New1 constructs the Codec every diagnostics HTTP handler should use,
// analogous to the teacher's NewCBORCodecV1. canonical should stay false
// outside of tests: it costs extra CPU per MSC3079's own caveat.
func New1(canonical bool) *Codec {
	c, err := New(datasetFieldKeys, canonical)
	if err != nil {
		// Unreachable: datasetFieldKeys is a static, hand-checked table.
		panic("cborbridge: duplicate key in datasetFieldKeys: " + err.Error())
	}
	return c
}
