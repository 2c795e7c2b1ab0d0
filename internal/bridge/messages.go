package bridge

// Message types exchanged over the terminal WebSocket. Shell output travels
// as raw binary frames; everything else is a JSON text frame.
const (
	TypeInput       = "input"
	TypeResize      = "resize"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
	TypeDisconnect  = "disconnect"
	TypeSessionInfo = "session_info"
)

// ClientMessage is any JSON message sent by the browser.
type ClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// ServerMessage is any JSON message sent to the browser.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
