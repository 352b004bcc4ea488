// Package liveview drives a browser map widget over a live socket.
//
// The server sends commands and state; the browser answers commands that
// need a result and reports its own events. Every message is one JSON object:
//
//	server → browser  {"type":"command","id":"…","cmd":"map.set_view","args":{…}}
//	                  {"type":"state","topic":"map","payload":{…}}
//	                  {"type":"alert","message":"…"}
//	browser → server  {"type":"reply","id":"…","ok":true,"data":{…}}
//	                  {"type":"event","event":"map.moveend","data":{…}}
package liveview

import "encoding/json"

// Message types.
const (
	TypeCommand = "command"
	TypeState   = "state"
	TypeAlert   = "alert"
	TypeReply   = "reply"
	TypeEvent   = "event"
)

// Commands understood by the browser.
const (
	CmdMapMount    = "map.mount"
	CmdMapRemove   = "map.remove"
	CmdSetView     = "map.set_view"
	CmdFitBounds   = "map.fit_bounds"
	CmdAddMarker   = "map.add_marker"
	CmdAddCircle   = "map.add_circle"
	CmdAddCluster  = "map.add_cluster"
	CmdLayerRemove = "layer.remove"
	CmdClusterLoad = "cluster.load"
	CmdGeolocate   = "geolocate"
)

// Outbound is a message to the browser.
type Outbound struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Cmd     string `json:"cmd,omitempty"`
	Args    any    `json:"args,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// Inbound is a message from the browser.
type Inbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}
