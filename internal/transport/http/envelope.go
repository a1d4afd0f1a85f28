package http

// WireEnvelope is the JSON shape this transport uses to carry a
// delegate request in and a request's id/status back out (spec.md §3's
// "WireEnvelope"). Bridge's own in-process types (bridge.BridgeResponse,
// bridge.HealthStatus, bridge.AIStatus) already carry proper json tags
// and are returned as-is from their respective endpoints; this envelope
// exists for the two shapes that have no in-process wire equivalent:
// the inbound delegate body and the outbound status lookup.
type WireEnvelope struct {
	RequestID string `json:"requestId,omitempty"`
	AIName    string `json:"aiName,omitempty"`
	Message   string `json:"message,omitempty"`
	Context   string `json:"context,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Status    string `json:"status,omitempty"`
}
