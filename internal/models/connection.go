package models

import "time"

// ConnectionRole distinguishes the writable primary from read replicas.
type ConnectionRole string

const (
	RolePrimary ConnectionRole = "primary"
	RoleReplica ConnectionRole = "replica"
)

const (
	InitialHealthScore = 50
	MinHealthScore     = 0
	MaxHealthScore     = 100
)

// ConnectionRecord is the pool-internal bookkeeping for one spatial-index
// connection (§3 "Connection record").
type ConnectionRecord struct {
	ID                string
	Role              ConnectionRole
	Connected         bool
	HealthScore       int
	LastError         error
	LastSuccessfulPing time.Time
}

// AdjustHealth clamps the health score into [MinHealthScore,MaxHealthScore]
// after applying delta, per the governor's scoring rule (§4.2).
func (c *ConnectionRecord) AdjustHealth(delta int) {
	c.HealthScore += delta
	if c.HealthScore > MaxHealthScore {
		c.HealthScore = MaxHealthScore
	}
	if c.HealthScore < MinHealthScore {
		c.HealthScore = MinHealthScore
	}
}
