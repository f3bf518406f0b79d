// Package mcp provides an MCP (Model Context Protocol) server that exposes a
// q2s experiment to agents.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/q2s/internal/config"
	"github.com/nvandessel/q2s/internal/logging"
)

// Server wraps the MCP SDK server around one resolved experiment.
type Server struct {
	server      *sdk.Server
	experiment  *config.Resolved
	path        string
	logger      *slog.Logger
	limiters    toolLimiters
	auditLogger *AuditLogger
}

// Config holds server configuration.
type Config struct {
	Name       string // Server name (e.g., "q2s")
	Version    string // Server version
	Experiment string // Experiment file served by the tools
	Settings   *config.Settings
	Logger     *slog.Logger
	// AuditDir receives audit.jsonl. Empty means ~/.q2s; "-" disables auditing.
	AuditDir string
}

// NewServer loads and validates the experiment, then registers the q2s tools.
// A broken experiment fails here rather than on the first tool call.
func NewServer(cfg *Config) (*Server, error) {
	exp, err := config.LoadExperiment(cfg.Experiment)
	if err != nil {
		return nil, err
	}
	resolved, err := exp.Build(cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("building experiment: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized", "experiment", cfg.Experiment)
		},
	})

	s := &Server{
		server:      mcpServer,
		experiment:  resolved,
		path:        cfg.Experiment,
		logger:      logger,
		limiters:    newToolLimiters(),
		auditLogger: openAudit(cfg.AuditDir),
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.Close()
	return err
}

// Close releases the audit log.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}

func openAudit(dir string) *AuditLogger {
	switch dir {
	case "-":
		return nil
	case "":
		d, err := config.Dir()
		if err != nil {
			return nil
		}
		dir = d
	}
	return NewAuditLogger(dir)
}
