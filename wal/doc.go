// Package wal implements a write-ahead log for the finalization engine.
//
// Every inbound finalization message is appended to the WAL before it is
// acted upon, so a crashed node can replay its backlog on restart instead
// of waiting for gossip to redeliver it, and an end-point entry is
// appended once a finalized point's proof has been persisted. Entries are length-prefixed and
// CRC32-checked, segmented by size, and indexed by finalization point
// so SearchForEndPoint can jump straight to the segment holding a given
// point. Checkpoint deletes segments once proof storage has durably
// recorded everything they contain.
package wal
