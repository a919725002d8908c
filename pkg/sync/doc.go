/*
The sync package implements mirrorsync's sync algorithm. A Session sits on
either end of a connection and mirrors file changes between a local tree and
the peer.

Small files travel as a single update message. Files above the chunk threshold
are base64 encoded and split into chunks, and each chunk must be acknowledged
before the next one is sent. A chunk that isn't acknowledged in time is
retried. A file that runs out of retries is reported as failed, and the rest
of the tree is still sent.

Both ends filter paths with the same Policy, so files matching the ignore
list or the configured regex rules are never sent or written.

Local changes are collapsed by a Debouncer before they're pushed, and the
LoopGuard drops the watcher echo of files that were just written on behalf of
the peer.
*/
package sync
