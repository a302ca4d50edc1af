package dispatch

import "context"

// Dispatcher is the engine's sole call-out to the plugin system.
//
// Dispatch either resolves with a result payload or fails with a typed
// error that the engine surfaces verbatim as the run's error message. The
// engine treats the call as opaque, potentially slow and potentially
// failing; timeout and backoff policy belong to the implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, pluginID, action string, config map[string]any) (map[string]any, error)
}

// Request is the wire shape of a dispatch call.
type Request struct {
	PluginID string         `json:"plugin_id"`
	Action   string         `json:"action"`
	Config   map[string]any `json:"config,omitempty"`
}

// Response is the wire shape of a dispatch result.
type Response struct {
	Result map[string]any `json:"result,omitempty"`
	Error  *ErrorBody     `json:"error,omitempty"`
}

// ErrorBody is the structured error half of a dispatch response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
