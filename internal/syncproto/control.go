package syncproto

import (
	"encoding/json"
	"fmt"
)

const (
	ActionUpdate  = "update"
	ActionRequest = "request"
)

// TaskHint arrives on the tasks topic and marks a task as possibly stale.
// It is an invalidation hint only; the receiver re-reads the store.
type TaskHint struct {
	Action string `json:"action"`
	TaskID int64  `json:"task_id"`
	UserID int64  `json:"user_id"`
}

// SyncRequest arrives on the sync topic and asks for a full task list.
// The action discriminant is mandatory; the legacy action-less form is
// rejected as unknown.
type SyncRequest struct {
	Action string `json:"action"`
	UserID int64  `json:"user_id"`
}

func DecodeTaskHint(payload []byte) (TaskHint, error) {
	var hint TaskHint
	if err := json.Unmarshal(payload, &hint); err != nil {
		return TaskHint{}, &DecodeError{Reason: ReasonMalformedJSON, Err: err}
	}
	if hint.Action != ActionUpdate {
		return TaskHint{}, &DecodeError{Reason: ReasonUnknownEvent, Err: fmt.Errorf("action %q", hint.Action)}
	}
	return hint, nil
}

func DecodeSyncRequest(payload []byte) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return SyncRequest{}, &DecodeError{Reason: ReasonMalformedJSON, Err: err}
	}
	if req.Action != ActionRequest {
		return SyncRequest{}, &DecodeError{Reason: ReasonUnknownEvent, Err: fmt.Errorf("action %q", req.Action)}
	}
	return req, nil
}
