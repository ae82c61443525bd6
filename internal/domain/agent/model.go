package agent

import "time"

// Status is the liveness state of a registered agent.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
	StatusUnknown  Status = "unknown"
)

// Info describes one network-addressable participant and the capabilities
// it advertises to the orchestrator.
type Info struct {
	Name          string    `json:"name"`
	CapabilityID  string    `json:"capability_id"`
	Capabilities  []string  `json:"capabilities"`
	Endpoint      string    `json:"endpoint"`
	Port          int       `json:"port"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
