package types

// WSConfigResponse is sent in response to config/get.
// Contains the full configuration without runtime state.
type WSConfigResponse struct {
	Type   string `json:"type"` // "config"
	Config any    `json:"config"`
}

// WSCommandResult is the standard response for command execution.
// Used by slash-style commands (session/start, volume/adjust, etc.)
type WSCommandResult struct {
	Type    string           `json:"type"`            // "<command>_result"
	Success bool             `json:"success"`         // true if command succeeded
	Error   *ValidationError `json:"error,omitempty"` // Validation errors if failed
	Data    any              `json:"data,omitempty"`  // Optional response data
}

// WSEventLogResult is sent to clients with recent event log entries.
type WSEventLogResult struct {
	Type    string `json:"type"`              // Message type identifier
	Success bool   `json:"success"`           // Operation succeeded
	Error   string `json:"error,omitempty"`   // Error message if failed
	Entries []any  `json:"entries,omitempty"` // Log entries, newest first
	HasMore bool   `json:"has_more"`          // More entries exist beyond this page
}
