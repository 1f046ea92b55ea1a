package control

import "time"

// StatusRequest carries no fields; the control surface is single-agent
// and always reports on itself.
type StatusRequest struct{}

// StatusResponse mirrors otatypes.AgentSnapshot (spec §3 "Agent
// context") over the wire: errors don't marshal, so LastError is
// flattened to its message.
type StatusResponse struct {
	State        string
	LastError    string
	TotalSize    uint32
	BytesWritten uint32
	Percentage   float64
	StartedAt    time.Time
	RetryCount   int32
	ConnectRetry int32
}

// UpdateNowRequest asks the agent to wake its worker immediately,
// the wire equivalent of the original `cy_ota_get_update()` call
// (spec §6.1 "get_update_now").
type UpdateNowRequest struct{}

// UpdateNowResponse acknowledges the request was delivered; it does
// not wait for the session to finish.
type UpdateNowResponse struct {
	Accepted bool
}

// StopRequest asks the agent to end its worker loop (spec §6.1
// "agent_stop").
type StopRequest struct{}

// StopResponse acknowledges the stop was accepted. The RPC returns
// before shutdown completes so a CLI caller isn't blocked on a
// potentially in-flight session.
type StopResponse struct {
	Accepted bool
}
