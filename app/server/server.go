package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"ragqa/app/api"
	"ragqa/app/middleware"
	"ragqa/config"
	"ragqa/loader"
)

var fiberConfig = fiber.Config{
	ErrorHandler:          api.ErrorHandler,
	DisableStartupMessage: true,
}

type Server struct {
	listenAddr   string
	documentsDir string
	logger       *slog.Logger
	provider     *Provider
	app          *fiber.App
}

func NewServer(cfg *config.Config, provider *Provider) *Server {
	logger := slog.Default()
	return &Server{
		listenAddr:   cfg.ServerAddr,
		documentsDir: cfg.DocumentsDir,
		logger:       logger,
		provider:     provider,
		app:          NewApp(provider, logger),
	}
}

// NewApp registers every route on a fresh fiber app.
func NewApp(provider api.PipelineProvider, logger *slog.Logger) *fiber.App {
	var (
		app          = fiber.New(fiberConfig)
		checkHandler = api.NewCheckHandler()
		ragHandler   = api.NewRAGHandler(provider)
		check        = app.Group("/check")
	)

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logger))

	check.Get("/healthy", checkHandler.HandleHealthy)
	app.Post("/index_documents", ragHandler.HandleIndexDocuments)
	app.Post("/query", ragHandler.HandleQuery)
	app.Get("/index_status", ragHandler.HandleIndexStatus)
	app.Delete("/delete_index", ragHandler.HandleDeleteIndex)

	return app
}

func (s *Server) App() *fiber.App { return s.app }

// Run seeds the documents directory and serves until Stop is called.
func (s *Server) Run() error {
	if err := loader.SeedDirectory(s.documentsDir); err != nil {
		s.logger.Warn("could not prepare documents directory", "dir", s.documentsDir, "error", err)
	}

	s.logger.Info("server listening", "addr", s.listenAddr)
	if err := s.app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if cerr := s.provider.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.logger.Info("server stopped")
	return err
}
