// Package mailslot implements the per-instance concurrent message queue engine.
//
// A Registry owns a fixed table of Channels indexed by a small integer id. Each
// Channel stores whole messages in FIFO order under a byte capacity and
// coordinates blocked writers and readers as a monitor: one mutex per channel,
// one private wake slot per blocked caller, and a re-test of the waiting
// condition every time a caller resumes. A message is always delivered whole;
// a reader whose buffer is too small gets an error and the message stays queued.
//
// Blocking calls take a context.Context. Cancelling it while the caller is
// suspended fails the call with an Interrupted error and never consumes a
// message or capacity.
package mailslot
