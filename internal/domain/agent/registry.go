package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry is the in-memory directory of agents. A single mutex guards all
// operations; an agent absent from the registry cannot be addressed by
// capability lookup.
type Registry struct {
	mu           sync.Mutex
	agents       map[string]*Info
	capabilities map[string]map[string]struct{} // capability -> set of agent names
	logger       zerolog.Logger
	now          func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		agents:       make(map[string]*Info),
		capabilities: make(map[string]map[string]struct{}),
		logger:       logger,
		now:          time.Now,
	}
}

// Register adds or replaces the agent, marks it active, stamps its
// heartbeat and indexes every declared capability. Re-registration
// overwrites the previous entry.
func (r *Registry) Register(info Info) Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.agents[info.Name]; ok {
		r.dropCapabilitiesLocked(prev)
	}

	info.Status = StatusActive
	info.LastHeartbeat = r.now()
	r.agents[info.Name] = &info

	for _, cap := range info.Capabilities {
		if r.capabilities[cap] == nil {
			r.capabilities[cap] = make(map[string]struct{})
		}
		r.capabilities[cap][info.Name] = struct{}{}
	}

	r.logger.Info().
		Str("agent", info.Name).
		Strs("capabilities", info.Capabilities).
		Str("endpoint", info.Endpoint).
		Msg("agent registered")

	return info
}

// Unregister removes the agent from the primary map and every capability
// index entry it appeared in. Returns false if the agent is unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[name]
	if !ok {
		return false
	}
	r.dropCapabilitiesLocked(info)
	delete(r.agents, name)

	r.logger.Info().Str("agent", name).Msg("agent unregistered")
	return true
}

// dropCapabilitiesLocked removes the agent from every capability index set.
// Caller holds r.mu.
func (r *Registry) dropCapabilitiesLocked(info *Info) {
	for _, cap := range info.Capabilities {
		if set := r.capabilities[cap]; set != nil {
			delete(set, info.Name)
			if len(set) == 0 {
				delete(r.capabilities, cap)
			}
		}
	}
}

// Get returns the agent by name.
func (r *Registry) Get(name string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[name]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// List returns all registered agents sorted by name.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindByCapability returns all agents currently indexed for the capability,
// in no specified order.
func (r *Registry) FindByCapability(capability string) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Info
	for name := range r.capabilities[capability] {
		if info, ok := r.agents[name]; ok {
			out = append(out, *info)
		}
	}
	return out
}

// UpdateHeartbeat stamps the current time and forces the agent back to
// active. Returns false if the agent is unknown.
func (r *Registry) UpdateHeartbeat(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[name]
	if !ok {
		return false
	}
	info.LastHeartbeat = r.now()
	info.Status = StatusActive
	return true
}

// UpdateStatus sets the agent's liveness status directly.
func (r *Registry) UpdateStatus(name string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[name]
	if !ok {
		return false
	}
	info.Status = status
	return true
}

// CheckStale flips agents whose last heartbeat exceeds timeout to inactive
// and returns their names. This is the only mechanism that demotes
// liveness; there is no active health probing.
func (r *Registry) CheckStale(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-timeout)
	var stale []string
	for name, info := range r.agents {
		if info.Status != StatusInactive && info.LastHeartbeat.Before(cutoff) {
			info.Status = StatusInactive
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		r.logger.Warn().Strs("agents", stale).Msg("agents marked inactive after missed heartbeats")
	}
	return stale
}
