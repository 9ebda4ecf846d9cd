package extensions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nickmurray47/goose/pkg/models"
)

// entry is one registered extension and its bookkeeping.
type entry struct {
	spec   models.ExtensionSpec
	client Client

	mu     sync.Mutex
	status Status
	tools  []ToolDef

	// inflight tracks calls currently executing against this extension
	// so deregistration can wait them out.
	inflight sync.WaitGroup

	// serial is held across calls when the extension is non-reentrant.
	serial sync.Mutex
}

// Registry holds the session's extensions. Mutation happens only through
// Register and Deregister; dispatch works against copy-on-write snapshots
// so a mid-turn registration never changes the tool surface the model
// already saw.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "extensions"),
	}
}

// Register connects the client and captures its tool surface. A failing
// ListTools leaves the extension registered but Failed; its tools never
// reach a prompt until a successful re-registration.
func (r *Registry) Register(ctx context.Context, spec models.ExtensionSpec, client Client) error {
	if spec.Name == "" {
		return fmt.Errorf("extension name is required")
	}

	e := &entry{spec: spec, client: client, status: StatusDisconnected}

	r.mu.Lock()
	if _, exists := r.entries[spec.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, spec.Name)
	}
	r.entries[spec.Name] = e
	r.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		e.setStatus(StatusFailed)
		r.logger.Error("extension connect failed", "extension", spec.Name, "error", err)
		return fmt.Errorf("connect %s: %w", spec.Name, err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		e.setStatus(StatusFailed)
		r.logger.Error("extension tool listing failed", "extension", spec.Name, "error", err)
		return fmt.Errorf("list tools %s: %w", spec.Name, err)
	}

	e.mu.Lock()
	e.status = StatusConnected
	e.tools = tools
	e.mu.Unlock()

	r.logger.Info("extension registered", "extension", spec.Name, "tools", len(tools))
	return nil
}

// Deregister removes an extension. New calls resolve unavailable
// immediately; the removal itself waits for in-flight calls to finish
// before closing the client.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnavailable, name)
	}
	delete(r.entries, name)
	r.mu.Unlock()

	e.setStatus(StatusDisconnected)
	e.inflight.Wait()

	if err := e.client.Close(); err != nil {
		r.logger.Warn("extension close failed", "extension", name, "error", err)
		return err
	}
	r.logger.Info("extension deregistered", "extension", name)
	return nil
}

// Status reports the liveness of a registered extension.
func (r *Registry) Status(name string) (Status, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, true
}

// Names lists registered extensions in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// acquire pins an extension for one call. It fails without contacting
// the extension when the entry is missing, not Connected, or the
// transport has dropped. The returned release must be called when the
// call resolves.
func (r *Registry) acquire(name string) (*entry, func(), error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnavailable, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusConnected || !e.client.Connected() {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnavailable, name)
	}
	e.inflight.Add(1)
	return e, e.inflight.Done, nil
}

func (e *entry) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// QualifiedTool pairs a tool with its owning extension.
type QualifiedTool struct {
	Extension string
	Def       ToolDef
}

// Snapshot is an immutable view of the connected tool surface, captured
// once per model turn.
type Snapshot struct {
	tools []QualifiedTool
	index map[string]ToolDef // extension + "/" + tool
}

// Snapshot captures the currently connected extensions and their tools.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{index: make(map[string]ToolDef)}
	for name, e := range r.entries {
		e.mu.Lock()
		if e.status == StatusConnected {
			for _, def := range e.tools {
				snap.tools = append(snap.tools, QualifiedTool{Extension: name, Def: def})
				snap.index[name+"/"+def.Name] = def
			}
		}
		e.mu.Unlock()
	}
	// Stable tool ordering keeps the prompt byte-identical across turns,
	// which matters for provider-side prompt caching.
	sort.Slice(snap.tools, func(i, j int) bool {
		a, b := snap.tools[i], snap.tools[j]
		if a.Extension != b.Extension {
			return a.Extension < b.Extension
		}
		return a.Def.Name < b.Def.Name
	})
	return snap
}

// Tools lists every tool in the snapshot.
func (s *Snapshot) Tools() []QualifiedTool {
	return s.tools
}

// Resolve looks up a tool definition in the snapshot.
func (s *Snapshot) Resolve(extension, tool string) (ToolDef, bool) {
	def, ok := s.index[extension+"/"+tool]
	return def, ok
}
