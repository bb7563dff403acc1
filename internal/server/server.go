package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/construction"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/database"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/ontology"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/resolver"
)

const serverName = "ontograph-libsql-go"

// Options carries the details health_check reports besides the database's.
type Options struct {
	EmbeddingsProvider string
	Resolver           resolver.Config
}

// MCPServer handles MCP protocol communication
type MCPServer struct {
	server *mcp.Server
	db     *database.DBManager
	co     *construction.Coordinator
	opts   Options
}

// NewMCPServer creates a new MCP server over an opened repository and a
// construction coordinator bound to it.
func NewMCPServer(db *database.DBManager, co *construction.Coordinator, opts Options) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	s := &MCPServer{
		server: server,
		db:     db,
		co:     co,
		opts:   opts,
	}
	s.setupToolHandlers()
	return s
}

func schemaFor[T any](name string) *jsonschema.Schema {
	schema, err := jsonschema.For[T]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for %s: %v", name, err))
	}
	return schema
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}

	// Ontology reads. Their results carry no timestamps, so they declare
	// output schemas.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_entity_types",
		Title:        "Get Entity Types",
		Description:  "List every entity type of the ontology with its property schema.",
		InputSchema:  schemaFor[apptype.GetEntityTypesArgs]("GetEntityTypesArgs"),
		OutputSchema: schemaFor[apptype.EntityTypesResult]("EntityTypesResult"),
		Annotations:  readOnly,
	}, s.handleGetEntityTypes)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_entity_properties",
		Title:        "Get Entity Properties",
		Description:  "Return the property schema of one entity type, by id or name.",
		InputSchema:  schemaFor[apptype.GetEntityPropertiesArgs]("GetEntityPropertiesArgs"),
		OutputSchema: schemaFor[apptype.EntityPropertiesResult]("EntityPropertiesResult"),
		Annotations:  readOnly,
	}, s.handleGetEntityProperties)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "get_relationship_types",
		Title:        "Get Relationship Types",
		Description:  "List every permitted (source type, target type, label) edge shape.",
		InputSchema:  schemaFor[apptype.GetRelationshipTypesArgs]("GetRelationshipTypesArgs"),
		OutputSchema: schemaFor[apptype.RelationshipTypesResult]("RelationshipTypesResult"),
		Annotations:  readOnly,
	}, s.handleGetRelationshipTypes)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_entity",
		Title:       "Get Entity",
		Description: "Fetch a canonical entity by id, optionally with its relationships.",
		InputSchema: schemaFor[apptype.GetEntityArgs]("GetEntityArgs"),
		Annotations: readOnly,
	}, s.handleGetEntity)

	// Construction sessions. Every session tool answers with the session
	// status as JSON text and as structured content.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "begin_session",
		Title:       "Begin Construction Session",
		Description: "Start a construction session from extracted candidates and proposed relationships. Returns the session status and its first prompt.",
		InputSchema: schemaFor[apptype.BeginSessionArgs]("BeginSessionArgs"),
	}, s.handleBeginSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "session_status",
		Title:       "Session Status",
		Description: "Show every item of a session and the prompt it is waiting on.",
		InputSchema: schemaFor[apptype.SessionArgs]("SessionArgs (status)"),
		Annotations: readOnly,
	}, s.handleSessionStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "submit_decision",
		Title:       "Submit Match Decision",
		Description: "Answer a match prompt with use_existing, create_new or reject.",
		InputSchema: schemaFor[apptype.SubmitDecisionArgs]("SubmitDecisionArgs"),
	}, s.handleSubmitDecision)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "supply_property",
		Title:       "Supply Property",
		Description: "Provide a missing required property value for a candidate being created.",
		InputSchema: schemaFor[apptype.SupplyPropertyArgs]("SupplyPropertyArgs"),
	}, s.handleSupplyProperty)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "approve_relationship",
		Title:       "Approve Relationship",
		Description: "Approve or deny a validated relationship.",
		InputSchema: schemaFor[apptype.ApproveRelationshipArgs]("ApproveRelationshipArgs"),
	}, s.handleApproveRelationship)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "resume_session",
		Title:       "Resume Session",
		Description: "Continue a session that was blocked by an unavailable embedding service.",
		InputSchema: schemaFor[apptype.SessionArgs]("SessionArgs (resume)"),
	}, s.handleResumeSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "session_plan",
		Title:       "Session Plan",
		Description: "Summarize what committing a ready session will create, reuse and link.",
		InputSchema: schemaFor[apptype.SessionArgs]("SessionArgs (plan)"),
		Annotations: readOnly,
	}, s.handleSessionPlan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "commit_session",
		Title:       "Commit Session",
		Description: "Write every staged change of a ready session in one transaction and return the audit manifest.",
		InputSchema: schemaFor[apptype.SessionArgs]("SessionArgs (commit)"),
	}, s.handleCommitSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retry_session",
		Title:       "Retry Session",
		Description: "Restart a conflicted session against fresh ontology and resolution state.",
		InputSchema: schemaFor[apptype.SessionArgs]("SessionArgs (retry)"),
	}, s.handleRetrySession)

	destructive := true
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cancel_session",
		Title:       "Cancel Session",
		Description: "Discard everything a session has staged. Nothing is written.",
		InputSchema: schemaFor[apptype.SessionArgs]("SessionArgs (cancel)"),
		Annotations: &mcp.ToolAnnotations{DestructiveHint: &destructive},
	}, s.handleCancelSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Report server version, embedding configuration and resolver settings.",
		InputSchema:  schemaFor[apptype.HealthArgs]("HealthArgs"),
		OutputSchema: schemaFor[apptype.HealthResult]("HealthResult"),
		Annotations:  readOnly,
	}, s.handleHealth)
}

func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// sessionResult renders a session status. Item-level problems come back as
// tool errors that still carry the status, so the caller can see which item
// needs attention.
func sessionResult(tool string, st *apptype.SessionStatus, err error) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	if st == nil {
		if err == nil {
			err = fmt.Errorf("no session status")
		}
		return nil, fmt.Errorf("%s failed: %w", tool, err)
	}
	res := &mcp.CallToolResultFor[apptype.SessionStatus]{
		Content:           []mcp.Content{&mcp.TextContent{Text: toJSON(st)}},
		StructuredContent: *st,
	}
	if err != nil {
		res.IsError = true
		res.Content = append([]mcp.Content{&mcp.TextContent{Text: err.Error()}}, res.Content...)
	}
	return res, nil
}

func (s *MCPServer) handleGetEntityTypes(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetEntityTypesArgs],
) (*mcp.CallToolResultFor[apptype.EntityTypesResult], error) {
	done := metrics.TimeTool("get_entity_types")
	var success bool
	defer func() { done(success) }()
	types, err := s.db.GetEntityTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity types: %w", err)
	}
	if types == nil {
		types = []apptype.EntityType{}
	}
	success = true
	return &mcp.CallToolResultFor[apptype.EntityTypesResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d entity types", len(types))}},
		StructuredContent: apptype.EntityTypesResult{EntityTypes: types},
	}, nil
}

func (s *MCPServer) handleGetEntityProperties(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetEntityPropertiesArgs],
) (*mcp.CallToolResultFor[apptype.EntityPropertiesResult], error) {
	done := metrics.TimeTool("get_entity_properties")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	if args.TypeID == "" && args.TypeName == "" {
		return nil, apperr.Validation("type_id", "either type_id or type_name is required")
	}
	catalog, err := ontology.Load(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to load ontology: %w", err)
	}
	var t apptype.EntityType
	if args.TypeID != "" {
		t, err = catalog.TypeByID(args.TypeID)
	} else {
		t, err = catalog.TypeByName(args.TypeName)
	}
	if err != nil {
		return nil, err
	}
	props, err := s.db.GetEntityProperties(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get properties of %s: %w", t.Name, err)
	}
	if props == nil {
		props = []apptype.PropertyDef{}
	}
	success = true
	return &mcp.CallToolResultFor[apptype.EntityPropertiesResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s declares %d properties", t.Name, len(props))}},
		StructuredContent: apptype.EntityPropertiesResult{TypeID: t.ID, TypeName: t.Name, Properties: props},
	}, nil
}

func (s *MCPServer) handleGetRelationshipTypes(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetRelationshipTypesArgs],
) (*mcp.CallToolResultFor[apptype.RelationshipTypesResult], error) {
	done := metrics.TimeTool("get_relationship_types")
	var success bool
	defer func() { done(success) }()
	rels, err := s.db.GetRelationshipTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship types: %w", err)
	}
	if rels == nil {
		rels = []apptype.RelationshipType{}
	}
	success = true
	return &mcp.CallToolResultFor[apptype.RelationshipTypesResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d relationship types", len(rels))}},
		StructuredContent: apptype.RelationshipTypesResult{RelationshipTypes: rels},
	}, nil
}

func (s *MCPServer) handleGetEntity(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetEntityArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("get_entity")
	var success bool
	defer func() { done(success) }()
	e, err := s.db.GetEntity(ctx, params.Arguments.EntityID)
	if err != nil {
		return nil, err
	}
	res := apptype.EntityResult{Entity: e}
	if params.Arguments.IncludeRelationships {
		rels, err := s.db.GetRelationshipsForEntity(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get relationships of %s: %w", e.ID, err)
		}
		res.Relationships = rels
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: toJSON(res)}},
	}, nil
}

func (s *MCPServer) handleBeginSession(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.BeginSessionArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("begin_session")
	var success bool
	defer func() { done(success) }()
	st, err := s.co.Begin(ctx, params.Arguments.Request())
	success = err == nil
	return sessionResult("begin_session", st, err)
}

func (s *MCPServer) handleSessionStatus(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SessionArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("session_status")
	var success bool
	defer func() { done(success) }()
	st, err := s.co.Status(ctx, params.Arguments.SessionID)
	success = err == nil
	return sessionResult("session_status", st, err)
}

func (s *MCPServer) handleSubmitDecision(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SubmitDecisionArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("submit_decision")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	st, err := s.co.Decide(ctx, args.SessionID, args.Ref, args.Decision())
	success = err == nil
	return sessionResult("submit_decision", st, err)
}

func (s *MCPServer) handleSupplyProperty(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SupplyPropertyArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("supply_property")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	st, err := s.co.SupplyProperty(ctx, args.SessionID, args.Ref, args.Name, args.Value)
	success = err == nil
	return sessionResult("supply_property", st, err)
}

func (s *MCPServer) handleApproveRelationship(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ApproveRelationshipArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("approve_relationship")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	st, err := s.co.Approve(ctx, args.SessionID, args.Ref, apptype.Approval{Approve: args.Approve})
	success = err == nil
	return sessionResult("approve_relationship", st, err)
}

func (s *MCPServer) handleResumeSession(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SessionArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("resume_session")
	var success bool
	defer func() { done(success) }()
	st, err := s.co.Resume(ctx, params.Arguments.SessionID)
	success = err == nil
	return sessionResult("resume_session", st, err)
}

func (s *MCPServer) handleSessionPlan(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SessionArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("session_plan")
	var success bool
	defer func() { done(success) }()
	plan, err := s.co.Plan(ctx, params.Arguments.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session_plan failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: toJSON(plan)}},
	}, nil
}

func (s *MCPServer) handleCommitSession(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SessionArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("commit_session")
	var success bool
	defer func() { done(success) }()
	id := params.Arguments.SessionID
	manifest, err := s.co.Commit(ctx, id)
	if err != nil {
		st, serr := s.co.Status(ctx, id)
		if serr != nil {
			return nil, fmt.Errorf("commit_session failed: %w", err)
		}
		return &mcp.CallToolResultFor[any]{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: err.Error()},
				&mcp.TextContent{Text: toJSON(st)},
			},
		}, nil
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: toJSON(manifest)}},
	}, nil
}

func (s *MCPServer) handleRetrySession(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SessionArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("retry_session")
	var success bool
	defer func() { done(success) }()
	st, err := s.co.Retry(ctx, params.Arguments.SessionID)
	success = err == nil
	return sessionResult("retry_session", st, err)
}

func (s *MCPServer) handleCancelSession(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SessionArgs],
) (*mcp.CallToolResultFor[apptype.SessionStatus], error) {
	done := metrics.TimeTool("cancel_session")
	var success bool
	defer func() { done(success) }()
	st, err := s.co.Cancel(ctx, params.Arguments.SessionID)
	success = err == nil
	return sessionResult("cancel_session", st, err)
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()
	// observe current pool gauges
	inUse, idle := s.db.PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)
	res := apptype.HealthResult{
		Name:               serverName,
		Version:            buildinfo.Version,
		Revision:           buildinfo.Revision,
		BuildDate:          buildinfo.BuildDate,
		EmbeddingDims:      s.db.EmbeddingDims(),
		EmbeddingsProvider: s.opts.EmbeddingsProvider,
		ResolverTopK:       s.opts.Resolver.TopK,
		ResolverThreshold:  s.opts.Resolver.Threshold,
		Capabilities:       s.db.Capabilities(),
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: res,
	}, nil
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	return s.RunTransport(ctx, mcp.NewStdioTransport())
}

// RunTransport serves on an arbitrary transport, reporting pool stats every
// five seconds until ctx ends.
func (s *MCPServer) RunTransport(ctx context.Context, transport mcp.Transport) error {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.db.PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
	return s.server.Run(ctx, transport)
}
