package bus

import (
	"time"

	"mailroom/pkg/message"
)

// FolderEventKind tags the variant carried by a FolderEvent.
type FolderEventKind string

const (
	FolderCreated    FolderEventKind = "created"
	FolderUpdated    FolderEventKind = "updated"
	FolderDeleted    FolderEventKind = "deleted"
	FolderParseError FolderEventKind = "parse_error"
	// FolderWatchError reports a failure of the watch layer itself
	// (permission, missing directory), not of an individual file.
	FolderWatchError FolderEventKind = "watch_error"
)

// FolderEvent is one normalized observation emitted by the folder watcher.
//
// Message is set for created and updated; Path and EndpointID for deleted and
// parse_error; Reason for parse_error; Err for watch_error.
type FolderEvent struct {
	Kind       FolderEventKind
	Message    message.Message
	Path       string
	EndpointID string
	Reason     string
	Err        error
	At         time.Time
}

// Created builds a created event.
func Created(msg message.Message) FolderEvent {
	return FolderEvent{Kind: FolderCreated, Message: msg, Path: msg.SourcePath, EndpointID: msg.EndpointID}
}

// Updated builds an updated event.
func Updated(msg message.Message) FolderEvent {
	return FolderEvent{Kind: FolderUpdated, Message: msg, Path: msg.SourcePath, EndpointID: msg.EndpointID}
}

// Deleted builds a deleted event.
func Deleted(path string, endpointID string) FolderEvent {
	return FolderEvent{Kind: FolderDeleted, Path: path, EndpointID: endpointID}
}

// ParseError builds a parse_error event.
func ParseError(path string, endpointID string, reason string) FolderEvent {
	return FolderEvent{Kind: FolderParseError, Path: path, EndpointID: endpointID, Reason: reason}
}

// WatchError builds a watch_error event.
func WatchError(endpointID string, err error) FolderEvent {
	return FolderEvent{Kind: FolderWatchError, EndpointID: endpointID, Err: err}
}

// StatusEvent mirrors one persisted status transition.
type StatusEvent struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Endpoint string    `json:"endpoint"`
	Filename string    `json:"filename"`
	Handler  string    `json:"handler,omitempty"`
	Error    string    `json:"error,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	At       time.Time `json:"at"`
}
