// Package tableadmin is the external, out-of-band table administration
// collaborator spec.md's EXTERNAL INTERFACES section calls for: a place to
// create, delete and list tables that has no bearing on lock correctness.
//
// A "table" here is simply a name paired with a Dragonboat shard ID; the
// registry does not itself talk to the store, it only remembers which
// tables a node knows about so "qlock table list" and "qlock table delete"
// have something to operate on, since Dragonboat has no built-in concept
// of listing all shards a NodeHost is aware of.
package tableadmin
