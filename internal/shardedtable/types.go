// Package shardedtable implements the sharded table coordinator: a
// directory holding a meta table, a shards table, and one basic table per
// shard, with a bounded shard cache and a generator-driven insert path.
package shardedtable

import (
	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
)

// reservedAutoShard is the generator result that asks the coordinator to
// pick (or create) a shard automatically.
const reservedAutoShard = "___auto"

// shardCountStep seeds each shard's id space far enough apart that two
// shards can never mint colliding ids.
const shardCountStep = 16_777_217

// shardRecord is the decoded form of one row of the "shards" meta table.
type shardRecord struct {
	Name  string
	Num   int
	Count int
}

// Options configures a sharded table.
type Options struct {
	CacheShards   int
	AutoShardSize int
	ShardOptions  basictable.Options
}

// DefaultOptions is the configuration a sharded table opens with when the
// caller does not override it.
func DefaultOptions() Options {
	return Options{CacheShards: 1, AutoShardSize: 1_000_000, ShardOptions: basictable.DefaultOptions()}
}

// Generator picks the shard name for a row that does not already carry an
// explicit "shard" field. Returning reservedAutoShard (___auto) asks the
// coordinator to choose automatically.
type Generator func(rec model.Record) string
