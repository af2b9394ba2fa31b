package ws

import "github.com/workspace-hub/backend/internal/model"

// FrameType identifies a wire protocol frame.
type FrameType string

const (
	// Client -> Server frame types
	FrameTypeJoin FrameType = "join"

	// Server -> Client frame types
	FrameTypeHistory FrameType = "history"
	FrameTypeResult  FrameType = "result"

	// Both directions: client requests and their broadcast echoes
	FrameTypeChat   FrameType = "chat"
	FrameTypeTask   FrameType = "task"
	FrameTypeInfo   FrameType = "info"
	FrameTypeOutput FrameType = "output"
	FrameTypeError  FrameType = "error"
)

// Request is a client -> server frame.
type Request struct {
	Type        FrameType `json:"type"`
	Project     string    `json:"project"`
	Workspace   string    `json:"workspace"`
	Message     string    `json:"message,omitempty"`
	Command     string    `json:"command,omitempty"`
	UseOpenCode bool      `json:"useOpenCode,omitempty"`
}

// BroadcastFrame carries one workspace message to subscribers.
type BroadcastFrame struct {
	Type      FrameType     `json:"type"`
	Project   string        `json:"project"`
	Workspace string        `json:"workspace"`
	Message   model.Message `json:"message"`
}

// HistoryFrame carries a workspace's full message log, sent once on join.
type HistoryFrame struct {
	Type      FrameType       `json:"type"`
	Project   string          `json:"project"`
	Workspace string          `json:"workspace"`
	Messages  []model.Message `json:"messages"`
}

// ErrorFrame reports a rejected request back to the requesting client.
type ErrorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}
