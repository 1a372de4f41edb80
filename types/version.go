package types

// Version is the canonical tagstream version.
// The stream and serve nodes, and the wire format, share it.
const Version = "0.3.0"

// WireVersion identifies the message layout carried on the transports.
// It moves in lockstep with Version.
const WireVersion = Version
