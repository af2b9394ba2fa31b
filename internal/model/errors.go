package model

import "errors"

var (
	// ErrInvalidName is returned when a project or workspace name is
	// empty, too long, or contains characters outside [A-Za-z0-9_-].
	ErrInvalidName = errors.New("invalid name")

	// ErrProjectNotFound is returned when a project is not found.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned when creating a project that already exists.
	ErrProjectExists = errors.New("project already exists")

	// ErrWorkspaceNotFound is returned when a workspace is not found.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrWorkspaceExists is returned when creating a workspace that already exists.
	ErrWorkspaceExists = errors.New("workspace already exists")
)
