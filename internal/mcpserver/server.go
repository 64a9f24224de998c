// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the result manifest to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/resultbox/internal/apperr"
	"github.com/starford/resultbox/internal/classify"
	"github.com/starford/resultbox/internal/fileservice"
	"github.com/starford/resultbox/internal/query"
)

const fileTypesURI = "resultbox://file-types"

// Server wraps the MCP server with resultbox tools.
type Server struct {
	mcp *server.MCPServer
	svc *fileservice.Service
	cls *classify.Classifier
}

// New creates a new MCP server with all tools registered.
func New(svc *fileservice.Service, cls *classify.Classifier) *Server {
	s := &Server{svc: svc, cls: cls}

	s.mcp = server.NewMCPServer(
		"resultbox",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_dropbox",
		mcp.WithDescription("List the files recorded in the dropbox. Supports the same filter and sort "+
			"syntax as the REST API, e.g. filter \"is_visualizable==true\" and sort \"+display_name\"."),
		mcp.WithString("filter", mcp.Description("Comma separated filters: <column><op><value>, op one of < <= == != >= >")),
		mcp.WithString("sort", mcp.Description("Comma separated sort directives: +column or -column")),
	), s.listDropbox)

	s.mcp.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List the pVAC-Seq jobs with their output directory and file count."),
	), s.listJobs)

	s.mcp.AddTool(mcp.NewTool("list_job_files",
		mcp.WithDescription("List the files recorded for one job."),
		mcp.WithNumber("job", mcp.Required(), mcp.Description("Job number")),
		mcp.WithString("filter", mcp.Description("Comma separated filters")),
		mcp.WithString("sort", mcp.Description("Comma separated sort directives")),
	), s.listJobFiles)

	s.mcp.AddTool(mcp.NewTool("get_file",
		mcp.WithDescription("Get one file record by section and id."),
		mcp.WithString("section", mcp.Required(), mcp.Description("\"dropbox\" or \"process-<N>\"")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id within the section")),
	), s.getFile)

	s.mcp.AddTool(mcp.NewTool("classify_file",
		mcp.WithDescription("Describe what a pVAC-Seq output file is and whether it has a table viewer, "+
			"based on its name."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name or path, e.g. sample.filtered.tsv")),
	), s.classifyFile)

	s.mcp.AddTool(mcp.NewTool("fetch_input",
		mcp.WithDescription("Download a file into the dropbox from an http(s) URL or a base64 data: URI. "+
			"The watcher records it shortly after."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
		mcp.WithString("filename", mcp.Description("Name to store the file under; derived from the URL when empty")),
	), s.fetchInput)

	s.mcp.AddResource(
		mcp.NewResource(fileTypesURI, "Known file types",
			mcp.WithResourceDescription("Every file extension pVAC-Seq produces, with its description and viewer."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFileTypesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	var qe *query.Error
	switch {
	case errors.As(err, &qe):
		return mcp.NewToolResultError(fmt.Sprintf("invalid %s: %s", qe.Fields, qe.Message))
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listDropbox(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.svc.ListDropbox(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return s.filtered(req, entries), nil
}

func (s *Server) listJobs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.svc.Jobs(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(jobs), nil
}

func (s *Server) listJobFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	job, err := req.RequireInt("job")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.svc.ListJob(ctx, job)
	if err != nil {
		return errorResult(err), nil
	}
	return s.filtered(req, entries), nil
}

func (s *Server) filtered(req mcp.CallToolRequest, entries any) *mcp.CallToolResult {
	rows, err := toRows(entries)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	filters := query.ParseList(req.GetString("filter", ""))
	sorting := query.ParseList(req.GetString("sort", ""))
	page, err := query.FilterData(rows, filters, sorting, 1, -1)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(page.Result)
}

// toRows round-trips records through JSON so filters address the same
// column names as the REST API.
func toRows(v any) ([]map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Server) getFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	section, err := req.RequireString("section")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.svc.Get(ctx, section, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(entry), nil
}

func (s *Server) classifyFile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(classify.Entry{
		Extension: classify.Extension(name),
		Info:      s.cls.ClassifyPath(name),
	}), nil
}

func (s *Server) readFileTypesResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      fileTypesURI,
			MIMEType: "text/markdown",
			Text:     FileTypesMarkdown(),
		},
	}, nil
}
