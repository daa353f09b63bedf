// Package ws implements the realtime protocol: the JSON message envelope,
// the Hub broadcasting to every connected UI client, and the Dispatcher
// mapping inbound requests onto the generation manager and the chat service.
package ws

import (
	"encoding/json"
	"fmt"

	"github.com/tbourn/go-musicgpt-backend/internal/domain"
)

// MessageType tags every frame exchanged over the websocket.
type MessageType string

// Inbound message types (client to server).
const (
	TypeGenerateAudio        MessageType = "generate_audio"
	TypeGenerateAudioNewChat MessageType = "generate_audio_new_chat"
	TypeAbortGeneration      MessageType = "abort_generation"
	TypeGetChat              MessageType = "get_chat"
	TypeListChats            MessageType = "list_chats"
	TypeSetChatMetadata      MessageType = "set_chat_metadata"
	TypeDeleteChat           MessageType = "delete_chat"
)

// Outbound message types (server to client).
const (
	TypeInit               MessageType = "init"
	TypeChat               MessageType = "chat"
	TypeChats              MessageType = "chats"
	TypeGenerationStart    MessageType = "generation_start"
	TypeGenerationProgress MessageType = "generation_progress"
	TypeGenerationResult   MessageType = "generation_result"
	TypeGenerationError    MessageType = "generation_error"
	TypeError              MessageType = "error"
)

// Envelope is the wire frame: a type tag plus a type-specific payload.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope from a typed payload.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// UnmarshalPayload decodes an envelope's payload into the given type.
func UnmarshalPayload[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return v, nil
}

// GenerateAudioRequest asks for audio generation in an existing chat
// (generate_audio) or a brand new one (generate_audio_new_chat). The id
// becomes the id of the user/AI history entry pair.
type GenerateAudioRequest struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt"`
	Secs   int    `json:"secs"`
}

// AbortGenerationRequest asks for cooperative cancellation of a job.
type AbortGenerationRequest struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
}

// ChatRequest targets a single chat (get_chat, delete_chat).
type ChatRequest struct {
	ChatID string `json:"chat_id"`
}

// SetChatMetadataRequest partially updates a chat's metadata. A nil Name
// leaves the current name untouched.
type SetChatMetadataRequest struct {
	ChatID string  `json:"chat_id"`
	Name   *string `json:"name"`
}

// InitPayload announces the loaded model and device once per connection.
type InitPayload struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

// ChatPayload answers get_chat with metadata plus the ordered history.
type ChatPayload struct {
	Chat    domain.Chat        `json:"chat"`
	Entries []domain.ChatEntry `json:"entries"`
}

// ChatsPayload lists every chat's metadata, newest first.
type ChatsPayload struct {
	Chats []domain.Chat `json:"chats"`
}

// StartPayload is broadcast when a job begins processing.
type StartPayload struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt"`
	Secs   int    `json:"secs"`
}

// ProgressPayload is broadcast as a job advances; progress is in [0, 1].
type ProgressPayload struct {
	ID       string  `json:"id"`
	ChatID   string  `json:"chat_id"`
	Progress float64 `json:"progress"`
}

// ResultPayload is broadcast when a job completes successfully.
type ResultPayload struct {
	ID      string `json:"id"`
	ChatID  string `json:"chat_id"`
	Relpath string `json:"relpath"`
}

// GenerationErrorPayload is broadcast when a job fails or is aborted; an
// abort carries the error text "Aborted".
type GenerationErrorPayload struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	Error  string `json:"error"`
}

// ErrorReply answers an invalid request privately, never broadcast.
type ErrorReply struct {
	Message string `json:"message"`
}
