// Package checkpoint provides durable snapshot/restore of investigation
// state. Checkpoints are immutable value snapshots organized per
// investigation id, with a "latest" pointer maintained atomically with every
// write and oldest-first eviction beyond a per-investigation limit.
package checkpoint
