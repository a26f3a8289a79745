// Package memory implements the tiered memory stores for multi-agent
// conversations:
// 1. Individual memory: per-agent, per-conversation working memory, TTL-bound.
// 2. Shared memory: conversation-wide, versioned, soft-deletable.
// 3. Manager: the facade composing both with performance sampling.
//
// Reads are cache-aside (cache first, durable backfill on miss); writes go
// through both tiers as two independent operations. Tier faults are logged
// and absorbed so a conversation degrades to stateless behavior instead of
// aborting.
package memory
