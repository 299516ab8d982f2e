// Package mcp exposes chartd records to assistants over the Model
// Context Protocol. Every tool is read-only; clinical writes stay on
// the HTTP surface where the UI can confirm them.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
	"github.com/verdanthealth/chartd/internal/workflow"
)

// RecordReader is the read-only slice of the record repository the
// tools use.
type RecordReader interface {
	GetPatient(ctx context.Context, id string) records.Result[*records.PatientRecord]
	ListPatients(ctx context.Context) records.Result[[]records.PatientRecord]
	GetSession(ctx context.Context, id string) records.Result[*records.Session]
}

var _ RecordReader = (*records.Repository)(nil)

// Server serves chartd tools over MCP.
type Server struct {
	mcp       *mcp.Server
	repo      RecordReader
	workflows workflow.Service
	feed      *notifications.Service
	catalog   *catalog.Catalog
	metrics   *Metrics
	logger    *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "chartd").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "chartd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over the given services.
func NewServer(cfg *Config, repo RecordReader, workflows workflow.Service, feed *notifications.Service, cat *catalog.Catalog) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "chartd"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if repo == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	if workflows == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if feed == nil {
		return nil, fmt.Errorf("notification feed is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("test catalog is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:       mcpServer,
		repo:      repo,
		workflows: workflows,
		feed:      feed,
		catalog:   cat,
		metrics:   NewMetrics(cfg.Logger),
		logger:    cfg.Logger.Named("mcp"),
	}

	s.registerTools()

	return s, nil
}

// Run serves MCP on the stdio transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
