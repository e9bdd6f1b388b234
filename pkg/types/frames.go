package types

// Frame is the envelope of every server-to-client websocket message. Unused
// fields are omitted from the encoding.
type Frame struct {
	Type         string     `json:"type"`
	RequestID    string     `json:"request_id,omitempty"`
	OK           bool       `json:"ok,omitempty"`
	Code         string     `json:"code,omitempty"`
	Error        string     `json:"error,omitempty"`
	ConnectionID string     `json:"connection_id,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	RoomID       string     `json:"room_id,omitempty"`
	MessageID    string     `json:"message_id,omitempty"`
	Delivered    int        `json:"delivered,omitempty"`
	Message      *Message   `json:"message,omitempty"`
	Messages     []*Message `json:"messages,omitempty"`
}

// NewMessageFrame wraps a chat message for live delivery
func NewMessageFrame(message *Message) Frame {
	return Frame{Type: FrameMessage, Message: message}
}
