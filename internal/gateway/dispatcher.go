package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/revittco/mcpmux/internal/audit"
	"github.com/revittco/mcpmux/internal/auth"
	"github.com/revittco/mcpmux/internal/displayrules"
	"github.com/revittco/mcpmux/internal/downstream"
	"github.com/revittco/mcpmux/internal/resourceuri"
	"github.com/yosida95/uritemplate/v3"
	"golang.org/x/sync/errgroup"
)

// Aggregate request types, shared with the JSON-RPC method names.
const (
	MethodListTools             = "tools/list"
	MethodCallTool              = "tools/call"
	MethodListResources         = "resources/list"
	MethodListResourceTemplates = "resources/templates/list"
	MethodReadResource          = "resources/read"
	MethodListPrompts           = "prompts/list"
	MethodGetPrompt             = "prompts/get"
)

const (
	defaultFanoutTimeout = 30 * time.Second
	maxFanout            = 16
)

// Dispatcher fans aggregate operations out to backend connections and
// merges the results.
type Dispatcher struct {
	registry *downstream.Registry
	gate     *auth.Gate
	recorder downstream.Recorder
	rules    displayrules.Engine
	host     *hostBackend

	fanoutTimeout        time.Duration
	requireTokenForReads bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDisplayRules sets the display-rule engine. The default is identity.
func WithDisplayRules(e displayrules.Engine) Option {
	return func(d *Dispatcher) { d.rules = e }
}

// WithFanoutTimeout bounds each per-backend call in list fan-outs.
// Zero disables the bound.
func WithFanoutTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.fanoutTimeout = t }
}

// WithRequireTokenForReads makes read-resource and get-prompt reject
// calls without a token.
func WithRequireTokenForReads(v bool) Option {
	return func(d *Dispatcher) { d.requireTokenForReads = v }
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg *downstream.Registry, gate *auth.Gate, rec downstream.Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:      reg,
		gate:          gate,
		recorder:      rec,
		rules:         displayrules.Identity{},
		fanoutTimeout: defaultFanoutTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	d.host = &hostBackend{registry: reg, gate: gate, search: d.searchTools}
	return d
}

// visible returns running connections the caller may see, in id order.
// No token sees everything; an invalid token sees nothing.
func (d *Dispatcher) visible(ctx context.Context, token string) (string, []*downstream.Connection) {
	running := d.registry.Running()
	if token == "" {
		return "", running
	}
	clientID, ok, err := d.gate.Identify(ctx, token)
	if err != nil || !ok {
		return "", nil
	}
	out := running[:0:0]
	for _, c := range running {
		if d.gate.CanAccess(ctx, token, c.ID()) {
			out = append(out, c)
		}
	}
	return clientID, out
}

// fanout calls fn on every connection concurrently and returns results in
// connection order. Failing or timed-out backends yield nil and are logged.
func fanout[T any](
	ctx context.Context,
	d *Dispatcher,
	op string,
	conns []*downstream.Connection,
	fn func(context.Context, downstream.Client) ([]T, error),
) [][]T {
	results := make([][]T, len(conns))
	var g errgroup.Group
	g.SetLimit(maxFanout)
	for i, conn := range conns {
		g.Go(func() error {
			cl, err := conn.Client()
			if err != nil {
				return nil
			}
			callCtx := ctx
			if d.fanoutTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, d.fanoutTimeout)
				defer cancel()
			}
			items, err := fn(callCtx, cl)
			if err != nil {
				slog.Warn("backend listing failed", "op", op, "server", conn.Name(), "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) record(ctx context.Context, e audit.Entry) {
	if d.recorder == nil {
		return
	}
	if e.Err != nil {
		e.ErrorCode = string(KindOf(e.Err))
	}
	_ = d.recorder.Record(ctx, e)
}

// ListTools merges host tools and every visible backend's tools, and
// rebuilds the tool indices. On native name collisions the backend with
// the greater id wins the index entry.
func (d *Dispatcher) ListTools(ctx context.Context, token string) ([]mcp.Tool, error) {
	began := time.Now()
	clientID, conns := d.visible(ctx, token)

	out := d.host.tools()
	results := fanout(ctx, d, MethodListTools, conns, func(ctx context.Context, c downstream.Client) ([]mcp.Tool, error) {
		return c.ListTools(ctx)
	})

	toolIndex := make(map[string]string)
	displayIndex := make(map[string]downstream.ToolRef)
	for i, conn := range conns {
		srv := conn.Server()
		for _, tool := range results[i] {
			if !srv.ToolEnabled(tool.Name) {
				continue
			}
			toolIndex[tool.Name] = srv.Name
			shown := d.templateTool(tool, srv.Name)
			displayIndex[shown.Name] = downstream.ToolRef{Server: srv.Name, Tool: tool.Name}
			out = append(out, shown)
		}
	}
	d.registry.ReplaceToolIndex(toolIndex, displayIndex)

	d.record(ctx, audit.Entry{
		RequestType: MethodListTools,
		ClientID:    clientID,
		Duration:    time.Since(began),
		Response:    map[string]int{"tools": len(out), "servers": len(conns)},
	})
	return out, nil
}

func (d *Dispatcher) templateTool(tool mcp.Tool, owner string) mcp.Tool {
	name, desc := d.rules.ApplyDisplayRules(tool.Name, tool.Description, owner, displayrules.KindTool)
	schema := toolSchema(tool)
	templated := d.rules.ApplyRulesToSchema(schema, tool.Name, owner)

	tool.Name = name
	tool.Description = desc
	if string(templated) != string(schema) {
		tool.RawInputSchema = templated
		tool.InputSchema = mcp.ToolInputSchema{}
	}
	return tool
}

func toolSchema(tool mcp.Tool) json.RawMessage {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema
	}
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil
	}
	return raw
}

// CallTool invokes a tool by native or display name. A token is required.
func (d *Dispatcher) CallTool(
	ctx context.Context, name string, args map[string]any, token string,
) (res *mcp.CallToolResult, err error) {
	began := time.Now()
	entry := audit.Entry{
		RequestType: MethodCallTool,
		Target:      name,
		Params:      map[string]any{"name": name, "arguments": args},
	}
	defer func() {
		entry.Duration = time.Since(began)
		entry.Err = err
		if err == nil {
			entry.Response = res
		}
		d.record(ctx, entry)
	}()

	if token == "" {
		return nil, newError(KindUnauthorized, "token required")
	}
	clientID, ok, err := d.gate.Identify(ctx, token)
	if err != nil {
		return nil, classify(err)
	}
	if !ok {
		return nil, newError(KindUnauthorized, "invalid token")
	}
	entry.ClientID = clientID

	if d.host.has(name) {
		entry.ServerName = HostServerName
		return d.host.call(ctx, name, args, token)
	}

	serverName, native, err := d.resolveTool(ctx, name, token)
	if err != nil {
		return nil, err
	}
	entry.ServerName = serverName

	if _, err := d.gate.Authorize(ctx, token, serverName); err != nil {
		return nil, classify(err)
	}

	conn, ok := d.registry.ByName(serverName)
	if !ok {
		return nil, newError(KindUnknownServer, "unknown server %q", serverName)
	}
	srv := conn.Server()
	entry.ServerID = srv.ID
	cl, err := d.liveClient(conn)
	if err != nil {
		return nil, err
	}
	if !srv.ToolEnabled(native) {
		return nil, newError(KindForbidden, "tool %q is disabled on %s", native, serverName)
	}

	res, err = cl.CallTool(ctx, native, args)
	if err != nil {
		return nil, backendFailure(err)
	}
	return res, nil
}

// resolveTool finds the owning server and native name for a tool. When
// no index entry exists it probes running, accessible backends in id
// order and takes the first that reports the name.
func (d *Dispatcher) resolveTool(ctx context.Context, name, token string) (string, string, error) {
	if ref, ok := d.registry.LookupDisplayName(name); ok {
		return ref.Server, ref.Tool, nil
	}
	if server, ok := d.registry.LookupTool(name); ok {
		return server, name, nil
	}

	for _, conn := range d.registry.Running() {
		if !d.gate.CanAccess(ctx, token, conn.ID()) {
			continue
		}
		cl, err := conn.Client()
		if err != nil {
			continue
		}
		tools, err := cl.ListTools(ctx)
		if err != nil {
			slog.Warn("probe list tools failed", "server", conn.Name(), "error", err)
			continue
		}
		owner := conn.Name()
		for _, t := range tools {
			if t.Name == name {
				return owner, t.Name, nil
			}
			if shown, _ := d.rules.ApplyDisplayRules(t.Name, "", owner, displayrules.KindTool); shown == name {
				return owner, t.Name, nil
			}
		}
	}
	return "", "", newError(KindNotFound, "tool %q not found", name)
}

func (d *Dispatcher) liveClient(conn *downstream.Connection) (downstream.Client, error) {
	if !d.registry.IsConnected(conn.Name()) {
		return nil, newError(KindNotRunning, "server %q is not running", conn.Name())
	}
	cl, err := conn.Client()
	if err != nil {
		return nil, newError(KindNotRunning, "server %q is not running", conn.Name())
	}
	return cl, nil
}

// ListResources merges visible backends' resources under canonical URIs.
func (d *Dispatcher) ListResources(ctx context.Context, token string) ([]mcp.Resource, error) {
	began := time.Now()
	clientID, conns := d.visible(ctx, token)
	results := fanout(ctx, d, MethodListResources, conns, func(ctx context.Context, c downstream.Client) ([]mcp.Resource, error) {
		return c.ListResources(ctx)
	})

	out := make([]mcp.Resource, 0)
	remembered := make(map[string]string)
	for i, conn := range conns {
		owner := conn.Name()
		for _, r := range results[i] {
			canonical, protocol := resourceuri.ToCanonical(owner, r.URI)
			remembered[canonical] = protocol
			r.URI = canonical
			r.Name, r.Description = d.rules.ApplyDisplayRules(r.Name, r.Description, owner, displayrules.KindResource)
			out = append(out, r)
		}
	}
	d.registry.RememberResources(remembered)

	d.record(ctx, audit.Entry{
		RequestType: MethodListResources,
		ClientID:    clientID,
		Duration:    time.Since(began),
		Response:    map[string]int{"resources": len(out), "servers": len(conns)},
	})
	return out, nil
}

// ListResourceTemplates merges visible backends' templates under
// canonical URI templates.
func (d *Dispatcher) ListResourceTemplates(ctx context.Context, token string) ([]mcp.ResourceTemplate, error) {
	began := time.Now()
	clientID, conns := d.visible(ctx, token)
	results := fanout(ctx, d, MethodListResourceTemplates, conns, func(ctx context.Context, c downstream.Client) ([]mcp.ResourceTemplate, error) {
		return c.ListResourceTemplates(ctx)
	})

	out := make([]mcp.ResourceTemplate, 0)
	remembered := make(map[string]string)
	for i, conn := range conns {
		owner := conn.Name()
		for _, t := range results[i] {
			if t.URITemplate == nil || t.URITemplate.Template == nil {
				continue
			}
			canonical, protocol := resourceuri.ToCanonical(owner, t.URITemplate.Raw())
			tpl, err := uritemplate.New(canonical)
			if err != nil {
				slog.Warn("skip resource template", "server", owner, "template", canonical, "error", err)
				continue
			}
			remembered[canonical] = protocol
			t.URITemplate = &mcp.URITemplate{Template: tpl}
			t.Name, t.Description = d.rules.ApplyDisplayRules(t.Name, t.Description, owner, displayrules.KindResourceTemplate)
			out = append(out, t)
		}
	}
	d.registry.RememberTemplates(remembered)

	d.record(ctx, audit.Entry{
		RequestType: MethodListResourceTemplates,
		ClientID:    clientID,
		Duration:    time.Since(began),
		Response:    map[string]int{"templates": len(out), "servers": len(conns)},
	})
	return out, nil
}

// ReadResource reads a canonical URI from its owning backend. A resource
// that no candidate native URI yields is returned as empty contents.
func (d *Dispatcher) ReadResource(
	ctx context.Context, uri, token string,
) (contents []mcp.ResourceContents, err error) {
	began := time.Now()
	entry := audit.Entry{
		RequestType: MethodReadResource,
		Target:      uri,
		Params:      map[string]any{"uri": uri},
	}
	defer func() {
		entry.Duration = time.Since(began)
		entry.Err = err
		if err == nil {
			entry.Response = map[string]int{"contents": len(contents)}
		}
		d.record(ctx, entry)
	}()

	serverName, path, err := resourceuri.Parse(uri)
	if err != nil {
		return nil, classify(err)
	}
	entry.ServerName = serverName

	clientID, err := d.authorizeRead(ctx, token, serverName)
	if err != nil {
		return nil, err
	}
	entry.ClientID = clientID

	conn, ok := d.registry.ByName(serverName)
	if !ok {
		return nil, newError(KindUnknownServer, "unknown server %q", serverName)
	}
	entry.ServerID = conn.ID()
	cl, err := d.liveClient(conn)
	if err != nil {
		return nil, err
	}

	protocol, ok := d.registry.ResourceProtocol(uri)
	if !ok {
		protocol, _ = resourceuri.MatchTemplate(d.registry.TemplateProtocols(), uri)
	}
	for _, candidate := range resourceuri.Candidates(protocol, path) {
		got, rerr := cl.ReadResource(ctx, candidate)
		if rerr != nil {
			slog.Debug("read candidate failed", "server", serverName, "uri", candidate, "error", rerr)
			continue
		}
		if len(got) > 0 {
			return canonicalizeContents(got, uri), nil
		}
	}
	return []mcp.ResourceContents{}, nil
}

// authorizeRead applies the gate when a token is supplied or required.
// Without a token only the server's existence is checked.
func (d *Dispatcher) authorizeRead(ctx context.Context, token, serverName string) (string, error) {
	if token == "" && !d.requireTokenForReads {
		if _, ok := d.registry.ResolveByName(serverName); !ok {
			return "", newError(KindUnknownServer, "unknown server %q", serverName)
		}
		return "", nil
	}
	clientID, err := d.gate.Authorize(ctx, token, serverName)
	if err != nil {
		return "", classify(err)
	}
	return clientID, nil
}

func canonicalizeContents(in []mcp.ResourceContents, uri string) []mcp.ResourceContents {
	out := make([]mcp.ResourceContents, len(in))
	for i, c := range in {
		switch v := c.(type) {
		case mcp.TextResourceContents:
			v.URI = uri
			out[i] = v
		case *mcp.TextResourceContents:
			cp := *v
			cp.URI = uri
			out[i] = cp
		case mcp.BlobResourceContents:
			v.URI = uri
			out[i] = v
		case *mcp.BlobResourceContents:
			cp := *v
			cp.URI = uri
			out[i] = cp
		default:
			out[i] = c
		}
	}
	return out
}

// ListPrompts merges visible backends' prompts.
func (d *Dispatcher) ListPrompts(ctx context.Context, token string) ([]mcp.Prompt, error) {
	began := time.Now()
	clientID, conns := d.visible(ctx, token)
	results := fanout(ctx, d, MethodListPrompts, conns, func(ctx context.Context, c downstream.Client) ([]mcp.Prompt, error) {
		return c.ListPrompts(ctx)
	})

	out := make([]mcp.Prompt, 0)
	for i, conn := range conns {
		owner := conn.Name()
		for _, p := range results[i] {
			p.Name, p.Description = d.rules.ApplyDisplayRules(p.Name, p.Description, owner, displayrules.KindPrompt)
			out = append(out, p)
		}
	}

	d.record(ctx, audit.Entry{
		RequestType: MethodListPrompts,
		ClientID:    clientID,
		Duration:    time.Since(began),
		Response:    map[string]int{"prompts": len(out), "servers": len(conns)},
	})
	return out, nil
}

// GetPrompt renders a prompt from the first running backend, in id order,
// that lists it. Unlike tools, the first match wins.
func (d *Dispatcher) GetPrompt(
	ctx context.Context, name string, args map[string]string, token string,
) (res *mcp.GetPromptResult, err error) {
	began := time.Now()
	entry := audit.Entry{
		RequestType: MethodGetPrompt,
		Target:      name,
		Params:      map[string]any{"name": name, "arguments": args},
	}
	defer func() {
		entry.Duration = time.Since(began)
		entry.Err = err
		if err == nil {
			entry.Response = res
		}
		d.record(ctx, entry)
	}()

	conn, native, err := d.findPrompt(ctx, name)
	if err != nil {
		return nil, err
	}
	srv := conn.Server()
	entry.ServerName = srv.Name
	entry.ServerID = srv.ID

	clientID, err := d.authorizeRead(ctx, token, srv.Name)
	if err != nil {
		return nil, err
	}
	entry.ClientID = clientID

	cl, err := d.liveClient(conn)
	if err != nil {
		return nil, err
	}
	res, err = cl.GetPrompt(ctx, native, args)
	if err != nil {
		return nil, backendFailure(err)
	}
	return res, nil
}

func (d *Dispatcher) findPrompt(ctx context.Context, name string) (*downstream.Connection, string, error) {
	for _, conn := range d.registry.Running() {
		cl, err := conn.Client()
		if err != nil {
			continue
		}
		prompts, err := cl.ListPrompts(ctx)
		if err != nil {
			slog.Warn("probe list prompts failed", "server", conn.Name(), "error", err)
			continue
		}
		owner := conn.Name()
		for _, p := range prompts {
			if p.Name == name {
				return conn, p.Name, nil
			}
			if shown, _ := d.rules.ApplyDisplayRules(p.Name, "", owner, displayrules.KindPrompt); shown == name {
				return conn, p.Name, nil
			}
		}
	}
	return nil, "", newError(KindNotFound, "prompt %q not found", name)
}
