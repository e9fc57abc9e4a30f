// Package protocol owns the DJ Link wire contract.
//
// Ownership boundary:
// - port and packet-type classification
// - fixed-layout decode of the closed set of packet bodies
// - encode of the bodies a virtual participant emits
//
// Field primitives (integers, pitch, tempo, cue countdown, names, flag
// bits) live in the wire subpackage. Nothing here performs I/O.
package protocol
