// Package presence tracks which machines are online and how they are doing.
//
// # Overview
//
// The Service keeps an in-memory cache of every known agent in front of the
// persistent store. Reads for the dashboard (fleet list, stats) are served
// from the cache; writes go through to the store.
//
// # Staleness
//
// An agent is online because it said so recently, not because its socket is
// open. A dropped connection never flips presence. The Monitor sweeps the
// cache on an interval and demotes agents whose last report is older than
// the staleness threshold, firing the Notifier exactly once per transition.
package presence
