// Package meshcop holds the fixed table of MeshCoP/diagnostic/COM_TOK
// CoAP URI paths. Values are exact wire strings from
// original_source/src/library/uri.hpp, including four paths
// (Petitioning/KeepAlive's leader-side siblings and the UDP_RX/TX tunnel
// pair) present in the original but omitted from the distilled spec's
// table - see SPEC_FULL.md §6.
package meshcop

const (
	Petitioning       = "/c/cp"
	LeaderPetitioning = "/c/lp"
	KeepAlive         = "/c/ca"
	LeaderKeepAlive   = "/c/la"
	UDPRx             = "/c/ur"
	UDPTx             = "/c/ut"
	RelayRx           = "/c/rx"
	RelayTx           = "/c/tx"
	MgmtGet           = "/c/mg"
	MgmtSet           = "/c/ms"
	MgmtCommissionerGet = "/c/cg"
	MgmtCommissionerSet = "/c/cs"
	MgmtBbrGet        = "/c/bg"
	MgmtBbrSet        = "/c/bs"
	MgmtActiveGet     = "/c/ag"
	MgmtActiveSet     = "/c/as"
	MgmtPendingGet    = "/c/pg"
	MgmtPendingSet    = "/c/ps"
	MgmtSecPendingSet = "/c/sp"
	MgmtDatasetChanged = "/c/dc"
	MgmtAnnounceBegin = "/c/ab"
	MgmtPanidQuery    = "/c/pq"
	MgmtPanidConflict = "/c/pc"
	MgmtEdScan        = "/c/es"
	MgmtEdReport      = "/c/er"
	MgmtReenroll      = "/c/re"
	MgmtDomainReset   = "/c/rt"
	MgmtNetMigrate    = "/c/nm"
	JoinEnt           = "/c/je"
	JoinFin           = "/c/jf"
	JoinApp           = "/c/ja"

	DiagGet      = "/d/dg"
	DiagGetQuery = "/d/dq"
	DiagGetAns   = "/d/da"
	DiagReset    = "/d/dr"

	MulticastListenerRegistration = "/n/mr"

	ComToken = "/.well-known/ccm"
)
