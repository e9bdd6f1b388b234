package websocket

// Inbound event types
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSendGroup   = "send_group"
	EventSendPrivate = "send_private"
	EventHistory     = "history"
)

// InboundEvent is one client request read from the socket
type InboundEvent struct {
	Type      string `json:"type" validate:"required,oneof=join leave send_group send_private history"`
	RequestID string `json:"request_id,omitempty" validate:"max=64"`
	RoomID    string `json:"room_id,omitempty" validate:"required_if=Type join,required_if=Type send_group"`
	ToUser    string `json:"to_user,omitempty" validate:"required_if=Type send_private"`
	Body      string `json:"body,omitempty" validate:"required_if=Type send_group,required_if=Type send_private"`
}
