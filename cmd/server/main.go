package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/siamese-verify/internal/config"
	"github.com/Brownie44l1/siamese-verify/internal/handlers"
	"github.com/Brownie44l1/siamese-verify/internal/logging"
	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
	"github.com/Brownie44l1/siamese-verify/internal/verify"
)

func main() {
	cfg, err := config.Load(os.Getenv("SIAMESE_VERIFY_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	preprocessor, err := preprocess.New(cfg.Preprocess.Interpolation)
	if err != nil {
		return err
	}

	handle := &verify.Handle{}
	defer func() {
		if err := handle.Close(); err != nil {
			logger.Warn("failed to close engine", zap.Error(err))
		}
	}()

	go loadEngine(handle, cfg.Engine, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	verifier := verify.NewVerifier(handle, preprocessor, logger)
	handlers.NewHandler(verifier, logger, handlers.Options{
		MaxUploadSize: cfg.Server.MaxUploadBytes,
		MaxPixels:     cfg.Preprocess.MaxPixels,
	}).RegisterRoutes(router)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("model", cfg.Engine.ModelPath),
		zap.String("interpolation", cfg.Preprocess.Interpolation),
	)
	logger.Info("endpoints",
		zap.Strings("routes", []string{
			"GET /health",
			"POST /verify",
			"POST /verify/tensor",
		}),
	)

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	return serveHTTPServer(server, shutdownTimeout, logger, nil, nil)
}

// loadEngine publishes the engine into handle once the model is in memory.
// Until then verification requests fail with ErrEngineNotLoaded. A load
// failure is recorded on the handle so requests fail with ErrModelLoad
// instead of waiting for an engine that will never arrive. If the handle was
// closed during shutdown, Set closes the late engine.
func loadEngine(handle *verify.Handle, cfg config.Engine, logger *zap.Logger) {
	start := time.Now()
	engine, err := model.Load(model.Options{
		Backend:      cfg.Backend,
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.LibraryPath,
		Threads:      cfg.Threads,
	})
	if err != nil {
		wrapped := logging.NewSubjectError("server.load_engine", cfg.ModelPath, err)
		handle.Fail(wrapped)
		logger.Error("model load failed, verification unavailable", logging.ErrorField(wrapped))
		return
	}

	handle.Set(engine)
	logger.Info("model loaded", zap.String("model", cfg.ModelPath), zap.Duration("elapsed", time.Since(start)))
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
