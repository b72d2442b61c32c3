package tools

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/hnpwa-feed/models"
)

// Service is the read contract exposed as tools
type Service interface {
	GetItem(ctx context.Context, id int) (*models.Item, error)
	GetStories(ctx context.Context, topic string, page int) ([]models.Story, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type handler struct {
	service Service
	log     *logrus.Logger
}

// New builds an MCP server exposing get_item, get_user and get_stories
func New(service Service, name, version string, log *logrus.Logger) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false))
	s.AddTools(Tools(service, log)...)
	return s
}

// Tools returns the tool definitions bound to service
func Tools(service Service, log *logrus.Logger) []mcpserver.ServerTool {
	h := &handler{service: service, log: log}

	return []mcpserver.ServerTool{
		{
			Tool: mcp.NewTool("get_item",
				mcp.WithDescription("Get an item (story, comment, etc) from Hacker News with its full comment tree"),
				mcp.WithNumber("id", mcp.Required(), mcp.Description("Item id")),
			),
			Handler: h.getItem,
		},
		{
			Tool: mcp.NewTool("get_user",
				mcp.WithDescription("Get a user from Hacker News"),
				mcp.WithString("id", mcp.Required(), mcp.Description("User id")),
			),
			Handler: h.getUser,
		},
		{
			Tool: mcp.NewTool("get_stories",
				mcp.WithDescription("Get one page of stories from Hacker News"),
				mcp.WithString("topic", mcp.Required(),
					mcp.Description("news, newest, ask, show, jobs, best or the list name (topstories, newstories, etc)")),
				mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			),
			Handler: h.getStories,
		},
	}
}

// ServeStdio serves s over stdin and stdout until ctx is done
func ServeStdio(ctx context.Context, s *mcpserver.MCPServer, log *logrus.Logger) error {
	stdio := mcpserver.NewStdioServer(s)
	stdio.SetErrorLogger(stdlog.New(log.WriterLevel(logrus.ErrorLevel), "", 0))

	log.Info("Serving tools over stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (h *handler) getItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	item, err := h.service.GetItem(ctx, id)
	if err != nil {
		return h.failed(request, err), nil
	}
	if item == nil {
		return mcp.NewToolResultError("Item not found"), nil
	}

	return jsonResult(item)
}

func (h *handler) getUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	user, err := h.service.GetUser(ctx, id)
	if err != nil {
		return h.failed(request, err), nil
	}
	if user == nil {
		return mcp.NewToolResultError("User not found"), nil
	}

	return jsonResult(user)
}

func (h *handler) getStories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := request.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page := request.GetInt("page", 1)

	stories, err := h.service.GetStories(ctx, topic, page)
	if err != nil {
		return h.failed(request, err), nil
	}

	return jsonResult(stories)
}

func (h *handler) failed(request mcp.CallToolRequest, err error) *mcp.CallToolResult {
	h.log.WithError(err).WithField("tool", request.Params.Name).Error("Tool call failed")
	return mcp.NewToolResultError(fmt.Sprintf("Hacker News request failed: %v", err))
}

// jsonResult renders v as indented JSON text
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
