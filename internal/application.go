package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-server/internal/config"
	"github.com/rocketscienceinc/tictactoe-server/internal/repository"
	"github.com/rocketscienceinc/tictactoe-server/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-server/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-server/transport/rest"
	"github.com/rocketscienceinc/tictactoe-server/transport/tcp"
	"github.com/rocketscienceinc/tictactoe-server/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	names, matches, closeStorage, err := initRepositories(ctx, log, conf)
	if err != nil {
		return err
	}
	defer closeStorage()

	matchmaker := usecase.NewMatchmaker(logger, names, matches)

	// renew name leases well before they run out
	go matchmaker.Run(ctx, conf.Names.TTL/3)

	// run TCP server
	tcpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting TCP server", "port", conf.SocketPort)
		tcpServer := tcp.New(logger, matchmaker, tcp.Options{
			WriteTimeout: conf.Session.WriteTimeout,
			OutboxSize:   conf.Session.OutboxSize,
		})
		tcpErrCh <- tcpServer.Start(ctx, conf.SocketPort)
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	if conf.WebSocketPort != "" {
		go func() {
			log.Info("Starting WebSocket server", "port", conf.WebSocketPort)
			wsServer := websocket.New(logger, matchmaker, websocket.Options{
				WriteTimeout: conf.Session.WriteTimeout,
				OutboxSize:   conf.Session.OutboxSize,
			})
			wsErrCh <- wsServer.Start(ctx, conf.WebSocketPort)
		}()
	}

	// run HTTP server
	httpErrCh := make(chan error, 1)
	if conf.HTTPPort != "" {
		go func() {
			log.Info("Starting HTTP server", "port", conf.HTTPPort)
			httpErrCh <- rest.Start(ctx, conf.HTTPPort, rest.NewHandlers(logger, matches))
		}()
	}

	var runErr error
	tcpDone := false

	select {
	case err = <-tcpErrCh:
		tcpDone = true
		if err != nil {
			runErr = fmt.Errorf("TCP server error: %w", err)
		}
	case err = <-wsErrCh:
		if err != nil {
			runErr = fmt.Errorf("WebSocket server error: %w", err)
		}
	case err = <-httpErrCh:
		if err != nil {
			runErr = fmt.Errorf("HTTP server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
	}

	cancel()

	// the TCP server returns once its sessions have left their matches
	if !tcpDone {
		if err = <-tcpErrCh; err != nil {
			log.Error("TCP server stopped with error", "error", err)
		}
	}

	return runErr
}

// initRepositories builds the name registry and snapshot store for the
// configured backend. The returned func releases the backend.
func initRepositories(ctx context.Context, log *slog.Logger, conf *config.Config) (repository.NameRepository, repository.MatchRepository, func(), error) {
	if conf.Storage != config.StorageRedis {
		return repository.NewMemoryNameRepository(),
			repository.NewMemoryMatchRepository(conf.Match.SnapshotTTL),
			func() {}, nil
	}

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return nil, nil, nil, ErrAddrNotFound
	}

	redisStorage, err := storage.NewRedisStorage(ctx, redisAddrString)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	closeStorage := func() {
		if err := redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}

	return repository.NewNameRepository(redisStorage, conf.Names.TTL),
		repository.NewMatchRepository(redisStorage, conf.Match.SnapshotTTL),
		closeStorage, nil
}
