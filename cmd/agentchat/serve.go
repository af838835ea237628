package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/agentchat/pkg/forward"
	"github.com/go-go-golems/agentchat/pkg/mockpeer"
)

const shutdownTimeout = 5 * time.Second

// serveHTTP runs handler on addr until ctx is done, then shuts it down.
func serveHTTP(ctx context.Context, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger := log.With().Str("component", name).Str("addr", addr).Logger()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info().Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "%s: listen", name)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func newForwardCommand() *cobra.Command {
	var addr, backendURL string
	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Run the HTTP endpoint that relays chat requests to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Forward.Addr = addr
			}
			if cmd.Flags().Changed("backend-url") {
				cfg.Forward.BackendURL = backendURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/api/chat", forward.NewHandler(forward.Config{BackendURL: cfg.Forward.BackendURL}))
			return serveHTTP(cmd.Context(), "forward", cfg.Forward.Addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "backend request/response endpoint")
	return cmd
}

func newMockPeerCommand() *cobra.Command {
	var (
		addr       string
		agent      string
		chunkDelay time.Duration
		chunkSize  int
	)
	cmd := &cobra.Command{
		Use:   "mock-peer",
		Short: "Run a scripted local peer serving /ws and /chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			mp := opts.cfg.MockPeer
			f := cmd.Flags()
			if f.Changed("addr") {
				mp.Addr = addr
			}
			if f.Changed("agent") {
				mp.Agent = agent
			}
			if f.Changed("chunk-delay") {
				mp.ChunkDelay = chunkDelay
			}
			if f.Changed("chunk-size") {
				mp.ChunkSize = chunkSize
			}
			peer := mockpeer.New(mockpeer.Config{
				Agent:      mp.Agent,
				ChunkSize:  mp.ChunkSize,
				ChunkDelay: mp.ChunkDelay,
			})
			defer peer.Close()
			return serveHTTP(cmd.Context(), "mockpeer", mp.Addr, peer.Handler())
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address")
	f.StringVar(&agent, "agent", "", "agent label announced with every reply")
	f.DurationVar(&chunkDelay, "chunk-delay", 0, "delay between streamed fragments")
	f.IntVar(&chunkSize, "chunk-size", 0, "runes per streamed fragment")
	return cmd
}
