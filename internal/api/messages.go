package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/k8ika0s/shop-assistant/internal/events"
	"github.com/k8ika0s/shop-assistant/internal/executor"
	"github.com/k8ika0s/shop-assistant/internal/protocol"
	"github.com/k8ika0s/shop-assistant/internal/session"
	"github.com/k8ika0s/shop-assistant/internal/store"
)

// errDisabled is shown verbatim to the operator.
var errDisabled = errors.New("Extension is disabled. Enable it from the popup to queue actions.")

func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Message: "Unknown message type: invalid json"})
		return
	}
	resp, code := h.Dispatch(r.Context(), req)
	writeJSON(w, code, resp)
}

// Dispatch answers one message. Domain rejections are success:false bodies
// with status 200; only unknown message types get 400.
func (h *Handler) Dispatch(ctx context.Context, req protocol.Request) (any, int) {
	h.init()
	log := h.Log.WithField("type", req.Type)
	if req.AgentID != "" {
		log = log.WithField("agent_id", req.AgentID)
	}
	log.Debug("message received")

	switch req.Type {
	case protocol.AppendAction:
		res, err := h.appendActions(ctx, req)
		if err != nil {
			log.WithError(err).Warn("append rejected")
			return protocol.AppendResponse{Error: err.Error(), QueueLength: h.Queue.Len()}, http.StatusOK
		}
		return res, http.StatusOK

	case protocol.PopAction:
		if !h.Enabled() {
			return protocol.PopResponse{Success: true, Message: "Extension is disabled"}, http.StatusOK
		}
		res := h.Queue.PopFirstAvailable(ctx)
		if res.Task != nil {
			h.publish(ctx, events.Event{Kind: events.KindPopped, ActionID: res.Task.ID, AgentID: req.AgentID, QueueLength: res.QueueSize})
		}
		return protocol.PopResponse{
			Success:     res.Task != nil,
			Action:      res.Task,
			QueueLength: res.QueueSize,
			Message:     res.Message,
			Status:      res.Stats,
		}, http.StatusOK

	case protocol.ClearQueue:
		return h.clear(ctx), http.StatusOK

	case protocol.GetQueueLength:
		return protocol.LengthResponse{Success: true, QueueLength: h.Queue.Len()}, http.StatusOK

	case protocol.GetQueueStatus:
		return protocol.StatusResponse{Success: true, Enabled: h.Enabled(), Status: h.Queue.Status()}, http.StatusOK

	case protocol.MarkTaskCompleted:
		if req.TaskID == "" {
			return protocol.ErrorResponse{Error: "taskId is required"}, http.StatusOK
		}
		h.Queue.MarkCompleted(ctx, req.TaskID)
		h.record(ctx, log, outcomeFrom(req.TaskID, "", req.AgentID, store.OutcomeCompleted, req.Result))
		h.publish(ctx, events.Event{Kind: events.KindCompleted, ActionID: req.TaskID, AgentID: req.AgentID, Message: resultMessage(req.Result)})
		return protocol.CompletedResponse{Success: true, Message: "Task marked as completed", TaskID: req.TaskID}, http.StatusOK

	case protocol.MarkTaskFailed:
		if req.Task == nil || req.Task.ID == "" {
			return protocol.ErrorResponse{Error: "task is required"}, http.StatusOK
		}
		errMsg := req.ErrorMessage
		if errMsg == "" {
			errMsg = resultMessage(req.Result)
		}
		fr := h.Queue.MarkFailed(ctx, *req.Task, errMsg)
		status, kind := store.OutcomeRetrying, events.KindRetrying
		if !fr.WillRetry {
			status, kind = store.OutcomeFailed, events.KindRetryExhausted
		}
		o := outcomeFrom(fr.TaskID, req.Task.Kind(), req.AgentID, status, req.Result)
		o.RetryCount, o.MaxRetries, o.WillRetry = fr.RetryCount, fr.MaxRetries, fr.WillRetry
		o.Message = errMsg
		h.record(ctx, log, o)
		h.publish(ctx, events.Event{
			Kind:     kind,
			ActionID: fr.TaskID,
			AgentID:  req.AgentID,
			Message:  fr.Message,
			Data:     map[string]any{"retryCount": fr.RetryCount, "maxRetries": fr.MaxRetries},
		})
		resp := protocol.FailedResponse{
			Success:    fr.WillRetry,
			Message:    fr.Message,
			TaskID:     fr.TaskID,
			RetryCount: fr.RetryCount,
			MaxRetries: fr.MaxRetries,
			WillRetry:  fr.WillRetry,
		}
		if !fr.WillRetry {
			resp.Error = errMsg
		}
		return resp, http.StatusOK

	case protocol.SetEnabled:
		if req.Enabled == nil {
			return protocol.ErrorResponse{Error: "enabled must be a boolean"}, http.StatusOK
		}
		enabled := *req.Enabled
		if err := h.setEnabled(ctx, enabled); err != nil {
			log.WithError(err).Warn("settings not saved")
		}
		kind := events.KindEnabled
		if !enabled {
			kind = events.KindDisabled
		}
		h.publish(ctx, events.Event{Kind: kind})
		log.WithField("enabled", enabled).Info("assistant toggled")
		return protocol.EnabledResponse{Success: true, Enabled: enabled, QueueLength: h.Queue.Len()}, http.StatusOK

	case protocol.GetSession:
		return protocol.SessionResponse{Success: true, Session: h.Session.Current()}, http.StatusOK

	case protocol.SetSession:
		if req.Session == nil {
			return protocol.ErrorResponse{Error: "session is required"}, http.StatusOK
		}
		return protocol.SessionResponse{Success: true, Session: h.Session.Apply(*req.Session)}, http.StatusOK
	}

	log.Warn("unknown message type")
	return protocol.ErrorResponse{Message: fmt.Sprintf("Unknown message type: %s", req.Type)}, http.StatusBadRequest
}

func (h *Handler) appendActions(ctx context.Context, req protocol.Request) (protocol.AppendResponse, error) {
	h.init()
	if !h.Enabled() {
		return protocol.AppendResponse{}, errDisabled
	}
	actions, err := req.ActionList()
	if err != nil {
		return protocol.AppendResponse{}, err
	}
	res, err := h.Queue.Append(ctx, actions)
	if err != nil {
		return protocol.AppendResponse{}, err
	}
	for _, a := range res.AddedActions {
		h.publish(ctx, events.Event{Kind: events.KindAppended, ActionID: a.ID, QueueLength: res.QueueSize, Data: map[string]any{"type": a.Type, "priority": a.Priority}})
	}
	return protocol.AppendResponse{
		Success:      true,
		QueueLength:  res.QueueSize,
		ActionsAdded: res.ActionsAdded,
		AddedActions: res.AddedActions,
	}, nil
}

func (h *Handler) clear(ctx context.Context) protocol.ClearResponse {
	h.init()
	n := h.Queue.Clear(ctx)
	h.publish(ctx, events.Event{Kind: events.KindCleared, Data: map[string]any{"removed": n}})
	return protocol.ClearResponse{
		Success:        true,
		Message:        fmt.Sprintf("Queue cleared. Removed %d action(s).", n),
		PreviousLength: n,
	}
}

func (h *Handler) record(ctx context.Context, log logrus.FieldLogger, o store.Outcome) {
	if err := h.Store.RecordOutcome(ctx, o); err != nil {
		log.WithError(err).WithField("action_id", o.ActionID).Warn("outcome not recorded")
	}
}

func outcomeFrom(actionID, kind, agentID, status string, res *executor.Result) store.Outcome {
	o := store.Outcome{ActionID: actionID, Type: kind, AgentID: agentID, Status: status}
	if res != nil {
		o.Message = res.Message
		o.Selector = res.Selector
		o.DurationMs = res.DurationMs
		o.Metadata = map[string]any{
			"strategy":     res.Strategy,
			"elementFound": res.ElementFound,
			"clicked":      res.Clicked,
		}
		if res.ElementText != "" {
			o.Metadata["elementText"] = res.ElementText
		}
	}
	return o
}

func resultMessage(res *executor.Result) string {
	if res == nil {
		return ""
	}
	return res.Message
}

func sessionMessage(st session.State) string {
	if st.Authorized {
		return "signed in as " + st.User
	}
	return "signed out"
}
