package ipc

import (
	"encoding/json"

	"pulse/internal/event"
)

type RequestType string

const (
	RequestList         RequestType = "list"
	RequestGet          RequestType = "get"
	RequestCreate       RequestType = "create"
	RequestUpdate       RequestType = "update"
	RequestDelete       RequestType = "delete"
	RequestWatch        RequestType = "watch"
	RequestStatus       RequestType = "status"
	RequestReloadConfig RequestType = "reload_config"
	RequestShutdown     RequestType = "shutdown"
)

// Request is one newline-framed client message. A watch request flips the
// connection into streaming mode; everything else is request/response.
type Request struct {
	Type       RequestType `json:"type"`
	ResourceID string      `json:"resource_id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Body       string      `json:"body,omitempty"`
}

type Response struct {
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	Resource  *event.Resource  `json:"resource,omitempty"`
	Resources []event.Resource `json:"resources,omitempty"`
	Status    *ServerStatus    `json:"status,omitempty"`
}

type ServerStatus struct {
	Subscribers   int   `json:"subscribers"`
	Resources     int   `json:"resources"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(data, &req)
	return req, err
}

func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	err := json.Unmarshal(data, &resp)
	return resp, err
}
