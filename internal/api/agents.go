package api

import (
	"sort"
	"sync"
	"time"

	"github.com/k8ika0s/shop-assistant/internal/protocol"
)

const defaultHeartbeatInterval = 15 * time.Second

// AgentStatus is the last heartbeat seen from one agent.
type AgentStatus struct {
	protocol.Heartbeat
	LastSeen int64 `json:"last_seen"`
	Stale    bool  `json:"stale"`
}

// Agents keeps the latest heartbeat per agent id.
type Agents struct {
	mu   sync.RWMutex
	seen map[string]AgentStatus
	now  func() time.Time
}

func NewAgents() *Agents {
	return &Agents{seen: make(map[string]AgentStatus), now: time.Now}
}

func (a *Agents) Record(hb protocol.Heartbeat) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen[hb.AgentID] = AgentStatus{Heartbeat: hb, LastSeen: a.now().UnixMilli()}
}

// List returns agents sorted by id. An agent is stale once three of its
// heartbeat intervals pass without a report.
func (a *Agents) List() []AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	now := a.now()
	out := make([]AgentStatus, 0, len(a.seen))
	for _, st := range a.seen {
		interval := time.Duration(st.IntervalSec) * time.Second
		if interval <= 0 {
			interval = defaultHeartbeatInterval
		}
		st.Stale = now.Sub(time.UnixMilli(st.LastSeen)) > 3*interval
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
