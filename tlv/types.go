package tlv

// Type identifies a MeshCoP TLV. Values are assigned by the Thread 1.2
// specification; this set covers every type referenced by dataset
// canonicalization and the commissioner/joiner exchanges this core
// implements.
type Type uint8

const (
	TypeChannel                     Type = 0
	TypePanID                       Type = 1
	TypeExtendedPanID               Type = 2
	TypeNetworkName                 Type = 3
	TypePSKc                        Type = 4
	TypeNetworkKey                  Type = 5
	TypeNetworkKeySequence          Type = 6
	TypeNetworkMeshLocalPrefix      Type = 7
	TypeSteeringData                Type = 8
	TypeBorderAgentLocator          Type = 9
	TypeCommissionerID              Type = 10
	TypeCommissionerSessionID       Type = 11
	TypeSecurityPolicy              Type = 12
	TypeState                       Type = 13
	TypeActiveTimestamp             Type = 14
	TypeCommissionerToken           Type = 15
	TypeCommissionerSignature       Type = 16
	TypeJoinerDtlsEncapsulation     Type = 17
	TypeJoinerUdpPort               Type = 18
	TypeJoinerIid                   Type = 19
	TypeJoinerRouterLocator         Type = 20
	TypeJoinerRouterKek             Type = 21
	TypeCommissionerPenSignature    Type = 31
	TypeProvisioningURL             Type = 32
	TypeVendorName                  Type = 33
	TypeVendorModel                 Type = 34
	TypeVendorSWVersion             Type = 35
	TypeVendorData                  Type = 36
	TypeVendorStackVersion          Type = 37
	TypeThreadCommissionerToken     Type = 38
	TypeThreadCommissionerSignature Type = 39
	TypeUDPEncapsulation            Type = 48
	TypeIPv6Address                 Type = 49
	TypePendingTimestamp            Type = 51
	TypeDelayTimer                  Type = 52
	TypeChannelMask                 Type = 53
)

// activeDatasetParameters and pendingDatasetParameters enumerate which TLV
// types belong to each dataset family. Ported from
// IsDatasetParameter(isActive, type) in the original token manager: Active
// Dataset parameters are a strict subset of Pending Dataset parameters
// (Pending additionally carries PendingTimestamp and DelayTimer).
var activeDatasetParameters = map[Type]bool{
	TypeActiveTimestamp:        true,
	TypeChannel:                true,
	TypeChannelMask:            true,
	TypeExtendedPanID:          true,
	TypeNetworkMeshLocalPrefix: true,
	TypeNetworkName:            true,
	TypeNetworkKey:             true,
	TypeNetworkKeySequence:     true,
	TypePanID:                  true,
	TypePSKc:                   true,
	TypeSecurityPolicy:         true,
}

var pendingDatasetParameters = func() map[Type]bool {
	m := make(map[Type]bool, len(activeDatasetParameters)+2)
	for t := range activeDatasetParameters {
		m[t] = true
	}
	m[TypePendingTimestamp] = true
	m[TypeDelayTimer] = true
	return m
}()

// IsDatasetParameter reports whether t belongs to the Active Dataset (when
// isActive is true) or the Pending Dataset (when isActive is false) family.
func IsDatasetParameter(isActive bool, t Type) bool {
	if isActive {
		return activeDatasetParameters[t]
	}
	return pendingDatasetParameters[t]
}

// tokenRelatedTypes are excluded from every signing content computed by the
// Token Manager except when building Active/Pending dataset signing
// content, where the dataset-parameter filter already excludes them.
var tokenRelatedTypes = map[Type]bool{
	TypeCommissionerToken:           true,
	TypeCommissionerSignature:       true,
	TypeCommissionerPenSignature:    true,
	TypeThreadCommissionerToken:     true,
	TypeThreadCommissionerSignature: true,
}

// IsTokenRelated reports whether t is one of the Commissioner
// Token/Signature TLV types that must never appear in signed content.
func IsTokenRelated(t Type) bool {
	return tokenRelatedTypes[t]
}
