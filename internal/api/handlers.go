package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/events"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
	"github.com/k8ika0s/shop-assistant/internal/queue"
	"github.com/k8ika0s/shop-assistant/internal/session"
	"github.com/k8ika0s/shop-assistant/internal/settings"
	"github.com/k8ika0s/shop-assistant/internal/store"
)

const publishTimeout = 2 * time.Second

// Handler wires HTTP routes to the queue and its side stores. Nil optional
// fields get in-memory defaults on first use.
type Handler struct {
	Queue        *queue.ActionQueue
	Store        store.Store
	Publisher    events.Publisher
	Hub          *events.Hub
	Session      *session.Store
	Agents       *Agents
	SettingsPath string
	Log          logrus.FieldLogger

	initOnce sync.Once
	mu       sync.Mutex
	settings settings.Settings
}

func (h *Handler) init() {
	h.initOnce.Do(func() {
		if h.Queue == nil {
			h.Queue = queue.New(queue.Options{})
		}
		if h.Store == nil {
			h.Store = store.NewMemory(0)
		}
		if h.Publisher == nil {
			h.Publisher = events.NullPublisher{}
		}
		if h.Hub == nil {
			h.Hub = events.NewHub()
		}
		if h.Session == nil {
			h.Session = session.New()
		}
		if h.Agents == nil {
			h.Agents = NewAgents()
		}
		if h.Log == nil {
			h.Log = logrus.StandardLogger()
		}
		h.settings = settings.Load(h.SettingsPath)
		h.Queue.SetLimits(h.settings.MaxQueueSize, h.settings.DefaultMaxRetries)
		h.Session.OnChange(func(st session.State) {
			h.publish(context.Background(), events.Event{
				Kind:    events.KindSession,
				Message: sessionMessage(st),
				Data:    map[string]any{"authorized": st.Authorized, "user": st.User},
			})
		})
	})
}

func (h *Handler) Routes(mux *http.ServeMux) {
	h.init()
	mux.HandleFunc("/api/health", h.health)
	mux.HandleFunc("/api/messages", h.messages)
	mux.HandleFunc("/api/queue", h.queueList)
	mux.HandleFunc("/api/queue/stats", h.queueStats)
	mux.HandleFunc("/api/queue/enqueue", h.queueEnqueue)
	mux.HandleFunc("/api/queue/clear", h.queueClear)
	mux.HandleFunc("/api/history", h.history)
	mux.HandleFunc("/api/agents/heartbeat", h.heartbeat)
	mux.HandleFunc("/api/agents", h.agents)
	mux.HandleFunc("/api/events", h.eventStream)
}

// Enabled reports the current on/off switch.
func (h *Handler) Enabled() bool {
	h.init()
	h.mu.Lock()
	defer h.mu.Unlock()
	return settings.BoolValue(h.settings.Enabled)
}

func (h *Handler) setEnabled(ctx context.Context, enabled bool) error {
	h.mu.Lock()
	h.settings.Enabled = settings.Bool(enabled)
	snapshot := h.settings
	h.mu.Unlock()
	if !enabled {
		h.Queue.Clear(ctx)
	}
	return settings.Save(h.SettingsPath, snapshot)
}

func (h *Handler) recentLimit() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings.RecentLimit
}

// publish fans evt out without letting a slow broker stall the request.
func (h *Handler) publish(ctx context.Context, evt events.Event) {
	if evt.QueueLength == 0 {
		evt.QueueLength = h.Queue.Len()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := (events.Multi{h.Publisher, h.Hub}).Publish(ctx, evt); err != nil {
		h.Log.WithError(err).WithField("kind", evt.Kind).Warn("event publish failed")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) queueList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.List())
}

func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Success: true, Enabled: h.Enabled(), Status: h.Queue.Status()})
}

// queueEnqueue accepts either one action object or an array of them.
func (h *Handler) queueEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req := protocol.Request{Type: protocol.AppendAction}
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		req.Actions = raw
	} else {
		var a queue.Action
		if err := json.Unmarshal(raw, &a); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		req.Action = &a
	}
	res, err := h.appendActions(r.Context(), req)
	switch {
	case errors.Is(err, errDisabled), errors.Is(err, queue.ErrCapacity):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) queueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, h.clear(r.Context()))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	q := r.URL.Query()
	filter := store.HistoryFilter{
		ActionID: q.Get("action_id"),
		AgentID:  q.Get("agent_id"),
		Status:   q.Get("status"),
		FromTs:   parseInt64(q.Get("from")),
		ToTs:     parseInt64(q.Get("to")),
		Limit:    parseIntDefault(q.Get("limit"), h.recentLimit(), 500),
		Offset:   parseIntDefault(q.Get("offset"), 0, 1<<20),
	}
	outcomes, err := h.Store.History(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if outcomes == nil {
		outcomes = []store.Outcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var hb protocol.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(hb.AgentID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id required"})
		return
	}
	h.Agents.Record(hb)
	writeJSON(w, http.StatusOK, map[string]string{"detail": "ok"})
}

func (h *Handler) agents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, h.Agents.List())
}

func parseIntDefault(val string, def int, max int) int {
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return def
	}
	if i > max {
		return max
	}
	return i
}

func parseInt64(val string) int64 {
	if val == "" {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
