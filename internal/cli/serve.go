package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"retreat-quiz/internal/reactor"
	transport "retreat-quiz/internal/transport/http"
)

// newServeCmd builds the subcommand running the websocket gateway.
func newServeCmd(opts *options) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the results dashboard and participant gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to listen on (defaults to server.port)")
	return cmd
}

func runServer(ctx context.Context, opts *options, portFlag string) error {
	cfg, log := opts.cfg, opts.log

	if isPostgres(cfg.Remote.URL) {
		if err := runMigrations(ctx, cfg.Remote.URL, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	hub := transport.NewHub()
	if err := rt.engine.Start(ctx, reactor.NewResults(hub), ""); err != nil {
		return err
	}
	wsHandler := transport.NewWSHandler(rt.engine, hub, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/api/stats", wsHandler.ServeStats)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      c.Handler(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Bool("remote", rt.remote.Connected()).Msg("starting quiz gateway")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
