// Package committee describes the set of authorities of an epoch.
//
// A Committee is immutable for the duration of an epoch and is shared
// read-only by every consensus component. Each authority is identified by a
// dense AuthorityIndex, its position in the committee, and carries a stake
// weight and a public key. Quorum and validity thresholds are derived from the
// total stake under the usual 3f+1 assumption.
package committee
