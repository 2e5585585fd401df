// Package voice binds a conversational AI provider to room controls so
// a host can drive the room by voice command. The provider is a
// capability interface; tool invocations arrive as callbacks and are
// dispatched through a registry.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/songjam/rooms-server/internal/errors"
	"github.com/songjam/rooms-server/internal/lifecycle"
	"github.com/songjam/rooms-server/internal/model"
	"github.com/songjam/rooms-server/internal/service"
)

// ToolFunc handles one named tool invocation from the conversation
// provider. Arguments arrive as raw JSON in the provider's shape.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a named capability exposed to the conversation agent.
type Tool struct {
	Name        string
	Description string
	Handler     ToolFunc
}

// Registry holds the tools offered to a conversation session.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Tools lists the registered tools for session setup.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	return tools
}

// Invoke dispatches a named tool call. Unknown tools are an error
// returned to the provider, never a panic.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("tool %q", name))
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("tool invocation failed")
		return nil, err
	}

	log.Info().Str("tool", name).Msg("tool invoked")
	return result, nil
}

// ConversationSession is one running conversation with the voice agent.
type ConversationSession interface {
	// EndSession stops the conversation. Safe to call more than once.
	EndSession(ctx context.Context) error
	// InputVolume and OutputVolume sample the current levels in [0, 1].
	InputVolume() float64
	OutputVolume() float64
}

// ConversationProvider starts agent conversations. Tool invocations are
// routed back through the given registry.
type ConversationProvider interface {
	StartSession(ctx context.Context, agentID string, tools *Registry) (ConversationSession, error)
}

// BindRoomTools registers the room voice commands against a lifecycle
// controller. The provider tag fixes which conferencing backend a
// voice-created room uses.
func BindRoomTools(registry *Registry, ctrl *lifecycle.Controller, provider model.Provider) {
	registry.Register(Tool{
		Name:        "go_live",
		Description: "Create a live audio room and join it as host",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var params struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &params); err != nil {
					return nil, apperrors.InvalidInput("args", err.Error())
				}
			}

			if err := ctrl.GoLive(ctx, service.CreateRoomParams{
				Title:       params.Title,
				Description: params.Description,
				Provider:    provider,
			}); err != nil {
				return nil, err
			}

			room := ctrl.Room()
			return map[string]any{
				"roomId": room.ID,
				"title":  room.Title,
			}, nil
		},
	})

	registry.Register(Tool{
		Name:        "end_space",
		Description: "End the currently live room",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			if err := ctrl.EndSpace(ctx); err != nil {
				return nil, err
			}
			return map[string]any{"ended": true}, nil
		},
	})
}
