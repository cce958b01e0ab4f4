// Package ionet implements the finalization engine's external network
// collaborator: a quic-go transport carrying two traffic patterns.
//
// Push is fire-and-forget: a node broadcasts its own votes, and
// forwards survivors of the local dedup filter to its peers, over
// unidirectional streams. Pull is request/response: a peer asks for
// everything a node has for a step identifier that the peer's own
// short-hash filter says it is missing, and gets back the concatenated
// messages chain.View.UnknownMessages would return, over a
// bidirectional stream.
//
// Messages arriving off the wire are deduplicated by content hash
// before being handed to chain.Engine.AddMessage, so the same vote
// gossiped by several peers is only aggregated once.
package ionet
