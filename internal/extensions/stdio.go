package extensions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nickmurray47/goose/pkg/models"
)

const protocolVersion = "2024-11-05"

// jsonrpcRequest is a newline-delimited JSON-RPC 2.0 request.
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolsListResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
		Annotations struct {
			ReadOnlyHint bool `json:"readOnlyHint,omitempty"`
		} `json:"annotations,omitempty"`
	} `json:"tools"`
}

type toolsCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// StdioClient runs an extension as a subprocess speaking JSON-RPC over
// stdin/stdout, one message per line.
type StdioClient struct {
	spec   models.ExtensionSpec
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	pending   map[int64]chan *jsonrpcResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewStdioClient builds a client for the given spec. Connect starts the
// subprocess.
func NewStdioClient(spec models.ExtensionSpec, logger *slog.Logger) *StdioClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioClient{
		spec:     spec,
		logger:   logger.With("extension", spec.Name, "transport", "stdio"),
		pending:  make(map[int64]chan *jsonrpcResponse),
		stopChan: make(chan struct{}),
	}
}

func (c *StdioClient) Name() string { return c.spec.Name }

func (c *StdioClient) Connected() bool { return c.connected.Load() }

// Connect starts the subprocess and performs the initialize handshake.
func (c *StdioClient) Connect(ctx context.Context) error {
	if c.spec.Command == "" {
		return NewCallError(c.spec.Name, "", KindTransport, fmt.Errorf("command is required for stdio extensions"))
	}

	c.process = exec.Command(c.spec.Command, c.spec.Args...)
	c.process.Env = os.Environ()
	for k, v := range c.spec.Env {
		c.process.Env = append(c.process.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var err error
	c.stdin, err = c.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, _ := c.process.StderrPipe()

	if err := c.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	c.connected.Store(true)
	c.logger.Info("started extension process", "command", c.spec.Command, "pid", c.process.Process.Pid)

	c.wg.Add(1)
	go c.readLoop(stdout)
	if stderr != nil {
		c.wg.Add(1)
		go c.logStderr(stderr)
	}

	params, _ := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "goose",
			"version": "1.0.0",
		},
	})
	if _, err := c.call(ctx, "initialize", params); err != nil {
		c.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify("notifications/initialized"); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}
	return nil
}

// Close kills the subprocess and fails every pending call.
func (c *StdioClient) Close() error {
	if !c.connected.Swap(false) {
		return nil
	}
	close(c.stopChan)
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.process != nil && c.process.Process != nil {
		c.process.Process.Kill()
		c.process.Wait()
	}
	c.wg.Wait()
	return nil
}

// ListTools queries the extension's tool surface.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDef, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, NewCallError(c.spec.Name, "", KindTransport, fmt.Errorf("parse tools/list: %w", err))
	}
	defs := make([]ToolDef, 0, len(result.Tools))
	for _, t := range result.Tools {
		defs = append(defs, ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			ReadOnly:    t.Annotations.ReadOnlyHint,
		})
	}
	return defs, nil
}

// CallTool invokes one tool and flattens its content blocks to text.
func (c *StdioClient) CallTool(ctx context.Context, tool string, arguments json.RawMessage) (string, error) {
	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}
	params, err := json.Marshal(map[string]any{
		"name":      tool,
		"arguments": arguments,
	})
	if err != nil {
		return "", NewCallError(c.spec.Name, tool, KindApplication, err)
	}

	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}

	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", NewCallError(c.spec.Name, tool, KindTransport, fmt.Errorf("parse tools/call: %w", err))
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	content := strings.Join(parts, "\n")
	if result.IsError {
		return "", NewCallError(c.spec.Name, tool, KindApplication, fmt.Errorf("%s", content))
	}
	return content, nil
}

// call sends a request and waits for its correlated response.
func (c *StdioClient) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, c.spec.Name)
	}

	id := c.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	respChan := make(chan *jsonrpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return nil, NewCallError(c.spec.Name, "", KindTransport, err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, NewCallError(c.spec.Name, "", KindApplication,
				fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message))
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopChan:
		return nil, NewCallError(c.spec.Name, "", KindTransport, fmt.Errorf("transport closed"))
	}
}

func (c *StdioClient) notify(method string) error {
	return c.write(jsonrpcRequest{JSONRPC: "2.0", Method: method})
}

func (c *StdioClient) write(msg jsonrpcRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *StdioClient) readLoop(stdout io.Reader) {
	defer c.wg.Done()
	defer c.connected.Store(false)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-c.stopChan:
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		var resp jsonrpcResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil || resp.ID == nil {
			continue
		}
		c.pendingMu.Lock()
		if ch, ok := c.pending[*resp.ID]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(c.pending, *resp.ID)
		}
		c.pendingMu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error("stdout scanner error", "error", err)
	}
}

func (c *StdioClient) logStderr(stderr io.Reader) {
	defer c.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case <-c.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			c.logger.Debug("extension stderr", "message", line)
		}
	}
}
