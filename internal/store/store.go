// ABOUTME: Store interface and data types for fleet presence persistence
// ABOUTME: Defines AgentRecord, ActivityEntry, Screenshot and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Agent liveness states. Online is a derived property: it means a
// heartbeat or registration was received within the staleness window,
// and only the liveness sweep may demote it.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Metrics is the last-reported resource sample from an agent. It is not
// a time series; history is kept only in viewer memory for sparklines.
type Metrics struct {
	CPU    float64
	Memory float64
}

// AgentRecord is the durable last-known state of one managed machine.
// Name is the only identity: a reused name overwrites the prior record.
type AgentRecord struct {
	Name     string
	Address  string
	Metrics  Metrics
	State    string
	LastSeen time.Time
	GroupID  *int64
}

// Online reports whether the record's derived state is online.
func (r *AgentRecord) Online() bool {
	return r.State == StateOnline
}

// FleetStats is the aggregate fleet view served to dashboards.
type FleetStats struct {
	Total   int
	Online  int
	Offline int
}

// ActivityEntry is one row of the activity/audit trail.
type ActivityEntry struct {
	ID        int64
	AgentName string
	User      string
	Kind      string
	Details   string
	CreatedAt time.Time
}

// Screenshot is a captured still image from an agent, delivered
// asynchronously after a screenshot command.
type Screenshot struct {
	ID         int64
	AgentName  string
	Filename   string
	Data       []byte
	CapturedAt time.Time
}

// Store defines the interface for fleet presence persistence
type Store interface {
	// Presence
	UpsertAgent(ctx context.Context, name, address string, m Metrics) error
	MarkOffline(ctx context.Context, name string) (bool, error)
	MarkStale(ctx context.Context, cutoff time.Time) ([]string, error)
	GetAgent(ctx context.Context, name string) (*AgentRecord, error)
	ListAgents(ctx context.Context) ([]*AgentRecord, error)
	Stats(ctx context.Context) (*FleetStats, error)
	SetAgentGroup(ctx context.Context, name string, groupID *int64) error

	// Activity trail
	AppendActivity(ctx context.Context, entry *ActivityEntry) error
	ListActivity(ctx context.Context, agentName string, limit int) ([]*ActivityEntry, error)

	// Screenshots
	SaveScreenshot(ctx context.Context, shot *Screenshot) error
	ListScreenshots(ctx context.Context, agentName string, limit int) ([]*Screenshot, error)

	// Admin users
	CreateAdminUser(ctx context.Context, username, passwordHash, role string) error
	GetAdminUser(ctx context.Context, username string) (*AdminUser, error)

	// Close releases any resources held by the store
	Close() error
}

// AdminUser is a human operator account for the dashboard.
type AdminUser struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
