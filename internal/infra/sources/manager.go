// Package sources supervises the child MCP servers the router selects tools
// from: spawning them over stdio, importing their tool lists into the
// catalogue and proxying tool calls back to the owning server.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"metamcp/internal/domain"
	"metamcp/internal/infra/catalog"
)

// Spec describes one child MCP server to supervise.
type Spec struct {
	Name          string
	Cmd           []string
	Env           map[string]string
	Cwd           string
	Documentation string
	Enabled       bool
}

// Status is the externally visible state of one supervised source.
type Status struct {
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	ToolCount int       `json:"tool_count"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
}

// embeddingUpdater keeps the similarity index in step with the catalogue.
type embeddingUpdater interface {
	UpdateToolEmbeddings(ctx context.Context, tools []domain.Tool) error
	UpdateToolUsage(ctx context.Context, toolID string, usageCount int64, lastUsed time.Time)
}

// docIndexer ingests a source's documentation file under its docs id.
type docIndexer interface {
	IndexDocumentation(ctx context.Context, path, sourceID string) error
}

// connectFn dials one source and returns a live session. Swappable so tests
// can connect over in-memory transports instead of spawning processes.
type connectFn func(ctx context.Context, spec Spec) (*mcp.ClientSession, error)

type source struct {
	spec      Spec
	session   *mcp.ClientSession
	toolCount int
	restarts  int
	startedAt time.Time
}

// Manager owns the lifecycle of every configured source.
type Manager struct {
	catalog        *catalog.Catalog
	index          domain.ToolIndex
	embedder       embeddingUpdater
	docs           docIndexer
	metrics        domain.Metrics
	logger         *zap.Logger
	connect        connectFn
	healthInterval time.Duration

	mu      sync.Mutex
	sources map[string]*source
}

type Options struct {
	Catalog  *catalog.Catalog
	Index    domain.ToolIndex
	Embedder embeddingUpdater
	Docs     docIndexer
	Metrics  domain.Metrics
	Logger   *zap.Logger

	// HealthInterval overrides the ping cadence; zero keeps the default.
	HealthInterval time.Duration

	// Connect overrides the stdio dialer; tests only.
	Connect connectFn
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	interval := opts.HealthInterval
	if interval <= 0 {
		interval = domain.DefaultHealthCheckSeconds * time.Second
	}
	connect := opts.Connect
	if connect == nil {
		connect = stdioConnect
	}
	return &Manager{
		catalog:        opts.Catalog,
		index:          opts.Index,
		embedder:       opts.Embedder,
		docs:           opts.Docs,
		metrics:        metrics,
		logger:         logger.Named("sources"),
		connect:        connect,
		healthInterval: interval,
		sources:        make(map[string]*source),
	}
}

func stdioConnect(ctx context.Context, spec Spec) (*mcp.ClientSession, error) {
	if len(spec.Cmd) == 0 {
		return nil, fmt.Errorf("%w: source %s has no command", domain.ErrSourceUnavailable, spec.Name)
	}
	cmd := exec.CommandContext(ctx, spec.Cmd[0], spec.Cmd[1:]...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "metamcp", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", spec.Name, err)
	}
	return session, nil
}

// Start brings up every enabled source. A source that fails to start is
// logged and skipped so one broken server never blocks the rest.
func (m *Manager) Start(ctx context.Context, specs []Spec) {
	for _, spec := range specs {
		if !spec.Enabled {
			m.logger.Debug("source disabled", zap.String("source", spec.Name))
			continue
		}
		if err := m.startSource(ctx, spec); err != nil {
			m.logger.Error("source start failed",
				zap.String("source", spec.Name),
				zap.Error(err),
			)
		}
	}
	m.publishUpCount()
}

func (m *Manager) startSource(ctx context.Context, spec Spec) error {
	session, err := m.connect(ctx, spec)
	if err != nil {
		return err
	}

	tools, err := m.importTools(ctx, session, spec.Name)
	if err != nil {
		_ = session.Close()
		return err
	}

	m.mu.Lock()
	prev := m.sources[spec.Name]
	src := &source{spec: spec, session: session, toolCount: len(tools), startedAt: time.Now()}
	if prev != nil {
		src.restarts = prev.restarts + 1
	}
	m.sources[spec.Name] = src
	m.mu.Unlock()
	if prev != nil && prev.session != nil {
		_ = prev.session.Close()
	}

	m.catalog.ReplaceSource(spec.Name, tools)
	if m.embedder != nil {
		// re-read from the catalogue: surviving tools carry their old
		// embeddings, so only genuinely new ones hit the backend
		refreshed := make([]domain.Tool, 0, len(tools))
		for _, tool := range tools {
			if cached, ok := m.catalog.Lookup(tool.ID); ok {
				refreshed = append(refreshed, cached)
			}
		}
		if err := m.embedder.UpdateToolEmbeddings(ctx, refreshed); err != nil {
			m.logger.Warn("tool embedding refresh failed",
				zap.String("source", spec.Name),
				zap.Error(err),
			)
		}
	}

	if spec.Documentation != "" && m.docs != nil {
		docsID := spec.Name + "_docs"
		if err := m.docs.IndexDocumentation(ctx, spec.Documentation, docsID); err != nil {
			m.logger.Warn("documentation indexing failed",
				zap.String("source", spec.Name),
				zap.String("path", spec.Documentation),
				zap.Error(err),
			)
		}
	}

	m.logger.Info("source started",
		zap.String("source", spec.Name),
		zap.Int("tools", len(tools)),
		zap.Int("restarts", src.restarts),
	)
	return nil
}

func (m *Manager) importTools(ctx context.Context, session *mcp.ClientSession, name string) ([]domain.Tool, error) {
	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools for %s: %w", name, err)
	}

	tools := make([]domain.Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, domain.Tool{
			ID:          domain.ToolID(name, t.Name),
			Name:        t.Name,
			Source:      name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		})
	}
	return tools, nil
}

// schemaToMap normalizes whatever schema representation the SDK hands back
// into the generic map the prompt builders consume.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// CallTool proxies one tool invocation to the owning source and records
// usage on success. Unlike selection, proxy errors propagate to the caller.
func (m *Manager) CallTool(ctx context.Context, toolID string, arguments map[string]any) (json.RawMessage, error) {
	sourceName, localName, ok := domain.SplitToolID(toolID)
	if !ok {
		return nil, fmt.Errorf("%w: malformed tool id %q", domain.ErrToolNotFound, toolID)
	}

	m.mu.Lock()
	src := m.sources[sourceName]
	m.mu.Unlock()
	if src == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceName)
	}

	began := time.Now()
	result, err := src.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      localName,
		Arguments: arguments,
	})
	m.metrics.ObserveToolCall(sourceName, time.Since(began), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrToolCallFailed, toolID, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrToolCallFailed, toolID, contentText(result.Content))
	}

	m.recordUsage(ctx, toolID)

	raw, err := json.Marshal(result.Content)
	if err != nil {
		return nil, fmt.Errorf("encode result for %s: %w", toolID, err)
	}
	return raw, nil
}

func (m *Manager) recordUsage(ctx context.Context, toolID string) {
	tool, ok := m.catalog.UpdateUsage(toolID, time.Now())
	if !ok {
		return
	}
	if m.embedder != nil {
		m.embedder.UpdateToolUsage(ctx, toolID, tool.UsageCount, tool.LastUsed)
	}
}

func contentText(content []mcp.Content) string {
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok {
			return text.Text
		}
	}
	return "tool reported an error"
}

// StopSource closes one source's session and drops its tools from the
// catalogue and the similarity index.
func (m *Manager) StopSource(ctx context.Context, name string) error {
	m.mu.Lock()
	src := m.sources[name]
	delete(m.sources, name)
	m.mu.Unlock()
	if src == nil {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, name)
	}

	_ = src.session.Close()
	removed := m.catalog.RemoveToolsForSource(name)
	if m.index != nil {
		if err := m.index.RemoveToolsForSource(ctx, name); err != nil {
			m.logger.Warn("index cleanup failed", zap.String("source", name), zap.Error(err))
		}
	}
	m.publishUpCount()
	m.logger.Info("source stopped", zap.String("source", name), zap.Int("tools_removed", removed))
	return nil
}

// Reload reconciles the running set against a new spec list: removed or
// disabled sources stop, new ones start, changed commands restart.
func (m *Manager) Reload(ctx context.Context, specs []Spec) {
	wanted := make(map[string]Spec, len(specs))
	for _, spec := range specs {
		if spec.Enabled {
			wanted[spec.Name] = spec
		}
	}

	m.mu.Lock()
	var stale []string
	for name, src := range m.sources {
		spec, ok := wanted[name]
		if ok && equalCmd(spec, src.spec) {
			delete(wanted, name)
			continue
		}
		stale = append(stale, name)
	}
	m.mu.Unlock()

	for _, name := range stale {
		if err := m.StopSource(ctx, name); err != nil {
			m.logger.Warn("reload stop failed", zap.String("source", name), zap.Error(err))
		}
	}
	for _, spec := range wanted {
		if err := m.startSource(ctx, spec); err != nil {
			m.logger.Error("reload start failed", zap.String("source", spec.Name), zap.Error(err))
		}
	}
	m.publishUpCount()
}

func equalCmd(a, b Spec) bool {
	if len(a.Cmd) != len(b.Cmd) || a.Cwd != b.Cwd || a.Documentation != b.Documentation {
		return false
	}
	for i := range a.Cmd {
		if a.Cmd[i] != b.Cmd[i] {
			return false
		}
	}
	if len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if b.Env[k] != v {
			return false
		}
	}
	return true
}

// Watch pings every source on the health interval and restarts the ones
// that stopped answering. Blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth(ctx)
		}
	}
}

func (m *Manager) checkHealth(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]*source, len(m.sources))
	for name, src := range m.sources {
		snapshot[name] = src
	}
	m.mu.Unlock()

	for name, src := range snapshot {
		if err := src.session.Ping(ctx, nil); err == nil {
			continue
		}
		m.logger.Warn("source unresponsive, restarting", zap.String("source", name))
		if err := m.startSource(ctx, src.spec); err != nil {
			m.logger.Error("source restart failed", zap.String("source", name), zap.Error(err))
			m.mu.Lock()
			if m.sources[name] == src {
				delete(m.sources, name)
			}
			m.mu.Unlock()
			_ = src.session.Close()
			m.catalog.RemoveToolsForSource(name)
		}
	}
	m.publishUpCount()
}

// ReindexDocs re-chunks and re-embeds documentation for every running
// source that carries a documentation path. Returns how many sources were
// reindexed; per-source failures are accumulated, not fatal.
func (m *Manager) ReindexDocs(ctx context.Context) (int, error) {
	if m.docs == nil {
		return 0, nil
	}
	m.mu.Lock()
	specs := make([]Spec, 0, len(m.sources))
	for _, src := range m.sources {
		if src.spec.Documentation != "" {
			specs = append(specs, src.spec)
		}
	}
	m.mu.Unlock()

	reindexed := 0
	var failures []string
	for _, spec := range specs {
		if err := m.docs.IndexDocumentation(ctx, spec.Documentation, spec.Name+"_docs"); err != nil {
			m.logger.Warn("documentation reindex failed",
				zap.String("source", spec.Name),
				zap.Error(err),
			)
			failures = append(failures, fmt.Sprintf("%s: %v", spec.Name, err))
			continue
		}
		reindexed++
	}
	if len(failures) > 0 {
		return reindexed, fmt.Errorf("reindex docs: %s", strings.Join(failures, "; "))
	}
	return reindexed, nil
}

// Statuses reports every supervised source, sorted by name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.sources))
	for name, src := range m.sources {
		out = append(out, Status{
			Name:      name,
			Connected: true,
			ToolCount: src.toolCount,
			Restarts:  src.restarts,
			StartedAt: src.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Shutdown closes every session without touching the catalogue; the next
// start repopulates it.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, src := range m.sources {
		_ = src.session.Close()
		delete(m.sources, name)
	}
}

func (m *Manager) publishUpCount() {
	m.mu.Lock()
	n := len(m.sources)
	m.mu.Unlock()
	m.metrics.SetSourcesUp(n)
}

var _ domain.ToolCaller = (*Manager)(nil)
