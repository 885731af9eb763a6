// Package store provides persistent storage for the gateway using SQLite.
//
// # Overview
//
// The Store interface covers agents, groups, activity, screenshots, and
// dashboard users. SQLiteStore implements it on modernc.org/sqlite, a pure
// Go driver, so the gateway builds without cgo. MockStore implements the
// same interface in memory for tests.
//
// # Data Models
//
//   - Agent: A monitored machine with presence state and last metrics
//   - Group: A named set of machines (a lab, a classroom)
//   - ActivityEntry: Append-only audit log of agent and admin actions
//   - Screenshot: Captured stills, newest first
//   - User: Dashboard account with a bcrypt password hash
//
// # Error Handling
//
// Lookups for missing rows return ErrNotFound. Callers branch on it with
// errors.Is.
package store
