package command

import (
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"
)

// Kind is the tag of a command frame. The set is closed: adding a tag means
// adding a const, a Handlers field and a Dispatch case.
type Kind string

const (
	KindRoomsList      Kind = "rooms:list"
	KindRoomsGet       Kind = "rooms:get"
	KindRoomEnter      Kind = "room:enter"
	KindRoomMessages   Kind = "room:messages"
	KindMessageCreated Kind = "message:created"
	KindUserNew        Kind = "user:new"
	KindUserInfo       Kind = "user:info"
	KindError          Kind = "error"
)

// Kinds lists every tag Dispatch knows.
var Kinds = []Kind{
	KindRoomsList,
	KindRoomsGet,
	KindRoomEnter,
	KindRoomMessages,
	KindMessageCreated,
	KindUserNew,
	KindUserInfo,
	KindError,
}

var (
	ErrUnknownKind = errors.New("command: unknown kind")
	ErrMalformed   = errors.New("command: malformed frame")
)

// Command is one decoded frame. Raw keeps the frame as received so handlers
// can decode kind-specific fields themselves.
type Command struct {
	Type   Kind            `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Raw    []byte          `json:"-"`
}

func Parse(frame []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	cmd.Raw = frame
	return cmd, nil
}

func Encode(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// RoomsList and EnterRoom build the commands a client sends on open.
func RoomsList() []byte {
	b, _ := Encode(Command{Type: KindRoomsList})
	return b
}

func EnterRoom(roomID string) []byte {
	b, _ := Encode(Command{Type: KindRoomEnter, RoomID: roomID})
	return b
}

type Handler func(Command)

// Handlers is the dispatch table. A nil field ignores that kind.
type Handlers struct {
	RoomsList      Handler
	RoomsGet       Handler
	RoomEnter      Handler
	RoomMessages   Handler
	MessageCreated Handler
	UserNew        Handler
	UserInfo       Handler
	Error          Handler
}

func (h *Handlers) handler(k Kind) (Handler, bool) {
	switch k {
	case KindRoomsList:
		return h.RoomsList, true
	case KindRoomsGet:
		return h.RoomsGet, true
	case KindRoomEnter:
		return h.RoomEnter, true
	case KindRoomMessages:
		return h.RoomMessages, true
	case KindMessageCreated:
		return h.MessageCreated, true
	case KindUserNew:
		return h.UserNew, true
	case KindUserInfo:
		return h.UserInfo, true
	case KindError:
		return h.Error, true
	default:
		return nil, false
	}
}

// Dispatch calls the handler registered for cmd.Type. Unknown tags are
// reported, never panicked on.
func (h *Handlers) Dispatch(cmd Command) error {
	if h == nil {
		return nil
	}
	fn, ok := h.handler(cmd.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, cmd.Type)
	}
	if fn != nil {
		fn(cmd)
	}
	return nil
}
