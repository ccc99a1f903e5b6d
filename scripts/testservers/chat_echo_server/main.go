// Command chat_echo_server runs the reference chat server used for local
// roomfire runs. It serves /chat/{roomId} and /health.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/torosent/roomfire/internal/chat"
)

func main() {
	port := pflag.IntP("port", "p", 8080, "Listening port")
	delay := pflag.Duration("response-delay", 0, "Artificial delay before each reply")
	debug := pflag.Bool("debug", false, "Log every connection and message")
	pflag.Parse()

	logger, err := zap.NewProduction()
	if *debug {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *port <= 0 {
		logger.Fatal("port must be > 0", zap.Int("port", *port))
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", *port),
		Handler: chat.NewEchoHandler(chat.EchoConfig{
			Logger:        logger.Named("chat"),
			ResponseDelay: *delay,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("chat echo server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
