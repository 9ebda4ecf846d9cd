package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// ToolHandler executes one in-process tool call.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (string, error)

// InProcessClient hosts builtin tools inside the engine process. It
// satisfies Client so builtins and stdio extensions dispatch identically.
type InProcessClient struct {
	name      string
	tools     []ToolDef
	handlers  map[string]ToolHandler
	connected atomic.Bool
}

// NewInProcessClient creates an empty in-process extension.
func NewInProcessClient(name string) *InProcessClient {
	return &InProcessClient{
		name:     name,
		handlers: make(map[string]ToolHandler),
	}
}

// AddTool registers one tool and its handler. Must be called before the
// client is registered.
func (c *InProcessClient) AddTool(def ToolDef, handler ToolHandler) *InProcessClient {
	c.tools = append(c.tools, def)
	c.handlers[def.Name] = handler
	return c
}

func (c *InProcessClient) Name() string { return c.name }

func (c *InProcessClient) Connect(context.Context) error {
	c.connected.Store(true)
	return nil
}

func (c *InProcessClient) Close() error {
	c.connected.Store(false)
	return nil
}

func (c *InProcessClient) Connected() bool {
	return c.connected.Load()
}

func (c *InProcessClient) ListTools(context.Context) ([]ToolDef, error) {
	return c.tools, nil
}

func (c *InProcessClient) CallTool(ctx context.Context, tool string, arguments json.RawMessage) (string, error) {
	handler, ok := c.handlers[tool]
	if !ok {
		return "", NewCallError(c.name, tool, KindApplication, fmt.Errorf("%w: %s", ErrUnknownTool, tool))
	}
	content, err := handler(ctx, arguments)
	if err != nil {
		if _, ok := err.(*CallError); ok {
			return "", err
		}
		return "", NewCallError(c.name, tool, KindApplication, err)
	}
	return content, nil
}
