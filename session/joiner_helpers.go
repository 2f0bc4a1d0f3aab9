package session

import "github.com/openthread/commissioner-core/meshcop"

// ComputeJoinerID and AddJoiner are re-exported from meshcop so callers
// building a Steering Data TLV for SetCommissionerDataset need only import
// the session package, matching the flat static-helper surface
// original_source/include/commissioner/commissioner.hpp exposes alongside
// GeneratePSKc.
func ComputeJoinerID(eui64 uint64) []byte { return meshcop.ComputeJoinerID(eui64) }

func AddJoiner(steeringData meshcop.SteeringData, joinerID []byte) {
	meshcop.AddJoiner(steeringData, joinerID)
}
