// Package presence tracks which roles are connected to a conversation.
//
// Each role moves through Unknown -> Online <-> Offline, driven by presence
// events from the realtime hub. Join and Leave apply deltas; Sync replaces
// the whole belief with a snapshot and always wins, which is what recovers
// from deltas lost during a reconnect.
//
// Presence is advisory. A role may read Online briefly after a silent
// disconnect until the next sync arrives.
package presence
