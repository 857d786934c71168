package types

// Version is the canonical project version, shared by the CLI and, through
// ContractVersion, the published run-completion events.
const Version = "0.1.0"

// ContractVersion is the version stamped on run-completion events; it
// moves in lockstep with Version.
const ContractVersion = Version
