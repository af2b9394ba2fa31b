package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// Kind classifies a message within a workspace's history.
type Kind string

const (
	KindChat   Kind = "chat"
	KindTask   Kind = "task"
	KindInfo   Kind = "info"
	KindOutput Kind = "output"
	KindError  Kind = "error"
)

// Message is one immutable entry in a workspace's history: chat text,
// a command echo, a chunk of process output, or a lifecycle notice.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a message with a fresh ID and the current instant.
func NewMessage(sender Sender, kind Kind, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Workspace is the serialized state of one workspace: its ordered
// message sequence.
type Workspace struct {
	Messages []Message `json:"messages"`
}

// Project is the serialized durable record for one project.
type Project struct {
	Workspaces map[string]*Workspace `json:"workspaces"`
}

// NewProject creates an empty project record.
func NewProject() *Project {
	return &Project{Workspaces: make(map[string]*Workspace)}
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,40}$`)

// ValidName reports whether s is usable as a project or workspace name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}
