/*
Package mcp is the dispatch core of a Model Context Protocol server.

Endpoints live in a Registry under three namespaces:

	reg := mcp.NewRegistry()
	_ = reg.RegisterResource("robot://joints/{joint_name}", jointHandler,
		mcp.WithDescription("State of one joint"), mcp.WithMimeType("text/plain"))
	_ = reg.RegisterTool("move_joint_to", []mcp.ParamSpec{
		mcp.RequiredParam("joint_name", mcp.ParamString, "Joint to move"),
		mcp.RequiredParam("position", mcp.ParamNumber, "Target position in radians"),
	}, moveHandler)
	_ = reg.RegisterPrompt("diagnose_robot", []mcp.ParamSpec{
		mcp.OptionalParam("component", mcp.ParamString, "all", "Component to diagnose"),
	}, diagnoseHandler)

A Lifecycle acquires the value shared by every request before serving and
releases it exactly once afterwards. The Dispatcher resolves each request,
binds its arguments and hands the handler a RequestContext carrying the
request's context.Context, the lifespan value and an ordered notification
channel for log and progress messages.

BaseServer maps the MCP JSON-RPC methods onto the Dispatcher, and
StdIOServer, HTTPServer (streamable HTTP with SSE) and WebSocketServer carry
it over the wire:

	base, _ := mcp.NewBaseServer(reg, mcp.NewLifecycle(acquire, logger), mcp.UseLogger(logger))
	_ = mcp.NewHTTPServer(base).Run(ctx)
*/
package mcp
