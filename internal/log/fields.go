// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldRole      = "role"
	FieldClientIP  = "client_ip"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAction    = "action"
	FieldClass     = "class"

	// Generation fields
	FieldVideoID    = "video_id"
	FieldEndpointID = "endpoint_id"
	FieldSeed       = "seed"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
