package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/k8ika0s/shop-assistant/internal/protocol"
)

// Heartbeater posts presence reports. *protocol.Client implements it.
type Heartbeater interface {
	Heartbeat(ctx context.Context, hb protocol.Heartbeat) error
}

func defaultRunID(agentID string) string {
	return fmt.Sprintf("%s-%d", agentID, time.Now().UnixNano())
}

// heartbeatLoop reports the current loop snapshot every interval until ctx
// is done. Failures are logged and never stop the agent.
func (s *Service) heartbeatLoop(ctx context.Context) {
	if s.Heartbeats == nil {
		return
	}
	intervalSec := s.Cfg.HeartbeatIntervalSec
	if intervalSec <= 0 {
		intervalSec = 15
	}
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()
	send := func() {
		snap := s.Snapshot()
		hb := protocol.Heartbeat{
			AgentID:             s.Cfg.AgentID,
			RunID:               s.runID,
			State:               string(snap.State),
			URL:                 snap.URL,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			Executed:            snap.Executed,
			IntervalSec:         intervalSec,
			Timestamp:           time.Now().Unix(),
		}
		if err := s.Heartbeats.Heartbeat(ctx, hb); err != nil && ctx.Err() == nil {
			s.Log.WithError(err).Debug("heartbeat failed")
		}
	}
	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}
