package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-musicgpt-backend/internal/domain"
	"github.com/tbourn/go-musicgpt-backend/internal/generation"
	"github.com/tbourn/go-musicgpt-backend/internal/services"
)

// Dispatcher owns the websocket endpoint. It upgrades connections, replays
// the connect preamble (init plus the current chat listing), maps every
// inbound request onto the Manager or the ChatService, and republishes job
// lifecycle events to all clients.
//
// The dispatcher holds no business logic: validation failures are answered
// privately with an error reply, malformed frames are logged and ignored.
type Dispatcher struct {
	log     zerolog.Logger
	hub     *Hub
	manager *generation.Manager
	chats   *services.ChatService
	info    InitPayload

	upgrader websocket.Upgrader
}

var _ generation.Publisher = (*Dispatcher)(nil)

// NewDispatcher wires the protocol endpoint to its collaborators. The init
// announcement is derived from the manager's processor.
func NewDispatcher(log zerolog.Logger, hub *Hub, manager *generation.Manager, chats *services.ChatService) *Dispatcher {
	proc := manager.Processor()
	return &Dispatcher{
		log:     log,
		hub:     hub,
		manager: manager,
		chats:   chats,
		info:    InitPayload{Model: proc.Name(), Device: proc.Device()},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The server fronts a local desktop UI; cross-origin pages
			// cannot reach it anyway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle is the gin handler for GET /ws. It blocks for the lifetime of the
// connection.
func (d *Dispatcher) Handle(c *gin.Context) {
	conn, err := d.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(d.hub, conn, d.log)
	d.hub.add(client)
	go client.writePump()

	ctx := context.Background()
	client.Send(mustEnvelope(TypeInit, d.info))
	d.sendChats(ctx, client)

	client.readPump(func(data []byte) {
		d.dispatch(ctx, client, data)
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, client *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.log.Warn().Err(err).Msg("malformed frame")
		return
	}

	switch env.Type {
	case TypeGenerateAudio:
		req, err := UnmarshalPayload[GenerateAudioRequest](env)
		if err != nil {
			d.log.Warn().Err(err).Msg("malformed payload")
			return
		}
		d.generate(ctx, client, req, false)

	case TypeGenerateAudioNewChat:
		req, err := UnmarshalPayload[GenerateAudioRequest](env)
		if err != nil {
			d.log.Warn().Err(err).Msg("malformed payload")
			return
		}
		d.generate(ctx, client, req, true)

	case TypeAbortGeneration:
		req, err := UnmarshalPayload[AbortGenerationRequest](env)
		if err != nil {
			d.log.Warn().Err(err).Msg("malformed payload")
			return
		}
		d.manager.Abort(req.ID)

	case TypeGetChat:
		req, err := UnmarshalPayload[ChatRequest](env)
		if err != nil {
			d.log.Warn().Err(err).Msg("malformed payload")
			return
		}
		d.getChat(ctx, client, req.ChatID)

	case TypeListChats:
		d.sendChats(ctx, client)

	case TypeSetChatMetadata:
		req, err := UnmarshalPayload[SetChatMetadataRequest](env)
		if err != nil {
			d.log.Warn().Err(err).Msg("malformed payload")
			return
		}
		if err := d.chats.SetMetadata(ctx, req.ChatID, req.Name); err != nil {
			d.replyError(client, err)
			return
		}
		d.broadcastChats(ctx)

	case TypeDeleteChat:
		req, err := UnmarshalPayload[ChatRequest](env)
		if err != nil {
			d.log.Warn().Err(err).Msg("malformed payload")
			return
		}
		if err := d.chats.Delete(ctx, req.ChatID); err != nil {
			d.replyError(client, err)
			return
		}
		d.broadcastChats(ctx)

	default:
		d.log.Warn().Str("type", string(env.Type)).Msg("unknown message type")
	}
}

func (d *Dispatcher) generate(ctx context.Context, client *Client, req GenerateAudioRequest, newChat bool) {
	if strings.TrimSpace(req.Prompt) == "" {
		d.replyError(client, services.ErrEmptyPrompt)
		return
	}
	if newChat {
		if _, err := d.chats.CreateFromPrompt(ctx, req.ChatID, req.Prompt); err != nil {
			d.log.Error().Err(err).Str("chat_id", req.ChatID).Msg("create chat")
			d.replyError(client, err)
			return
		}
		d.broadcastChats(ctx)
	}
	err := d.manager.Submit(generation.Job{
		ID:     req.ID,
		ChatID: req.ChatID,
		Prompt: req.Prompt,
		Secs:   req.Secs,
	})
	if err != nil {
		d.replyError(client, err)
	}
}

func (d *Dispatcher) getChat(ctx context.Context, client *Client, chatID string) {
	chat, entries, err := d.chats.Get(ctx, chatID)
	if err != nil {
		d.replyError(client, err)
		return
	}
	if entries == nil {
		entries = []domain.ChatEntry{}
	}
	client.Send(mustEnvelope(TypeChat, ChatPayload{Chat: *chat, Entries: entries}))
}

// sendChats answers one client with the current chat listing.
func (d *Dispatcher) sendChats(ctx context.Context, client *Client) {
	list, err := d.chats.List(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("list chats")
		d.replyError(client, err)
		return
	}
	if list == nil {
		list = []domain.Chat{}
	}
	client.Send(mustEnvelope(TypeChats, ChatsPayload{Chats: list}))
}

// broadcastChats pushes the refreshed listing to every client after the chat
// set changes (creation, rename, deletion).
func (d *Dispatcher) broadcastChats(ctx context.Context) {
	list, err := d.chats.List(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("list chats")
		return
	}
	if list == nil {
		list = []domain.Chat{}
	}
	d.hub.Broadcast(mustEnvelope(TypeChats, ChatsPayload{Chats: list}))
}

func (d *Dispatcher) replyError(client *Client, err error) {
	client.Send(mustEnvelope(TypeError, ErrorReply{Message: err.Error()}))
}

// PublishStart implements generation.Publisher.
func (d *Dispatcher) PublishStart(jobID, chatID, prompt string, secs int) {
	d.hub.Broadcast(mustEnvelope(TypeGenerationStart, StartPayload{
		ID: jobID, ChatID: chatID, Prompt: prompt, Secs: secs,
	}))
}

// PublishProgress implements generation.Publisher.
func (d *Dispatcher) PublishProgress(jobID, chatID string, progress float64) {
	d.hub.Broadcast(mustEnvelope(TypeGenerationProgress, ProgressPayload{
		ID: jobID, ChatID: chatID, Progress: progress,
	}))
}

// PublishResult implements generation.Publisher.
func (d *Dispatcher) PublishResult(jobID, chatID, relpath string) {
	d.hub.Broadcast(mustEnvelope(TypeGenerationResult, ResultPayload{
		ID: jobID, ChatID: chatID, Relpath: relpath,
	}))
}

// PublishError implements generation.Publisher.
func (d *Dispatcher) PublishError(jobID, chatID, message string) {
	d.hub.Broadcast(mustEnvelope(TypeGenerationError, GenerationErrorPayload{
		ID: jobID, ChatID: chatID, Error: message,
	}))
}

// mustEnvelope wraps NewEnvelope for payload types that cannot fail to
// marshal.
func mustEnvelope(t MessageType, payload any) Envelope {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}
