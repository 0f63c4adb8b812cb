package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tasselx/taimusic/internal/audio"
	"github.com/tasselx/taimusic/internal/config"
	"github.com/tasselx/taimusic/internal/domain/history"
	"github.com/tasselx/taimusic/internal/domain/playback"
	"github.com/tasselx/taimusic/internal/infra/audiocache"
	"github.com/tasselx/taimusic/internal/infra/fetch"
	"github.com/tasselx/taimusic/internal/infra/mpd"
	"github.com/tasselx/taimusic/internal/transport/socketio"
	"github.com/tasselx/taimusic/internal/version"
)

const shutdownTimeout = 5 * time.Second

// output is the configured playback.Backend plus what serve needs to run it.
type output struct {
	backend   playback.Backend
	activator socketio.Activator
	run       func(ctx context.Context) error
	close     func() error
}

func (a *app) serve(ctx context.Context, cmd *cli.Command) error {
	cfg := a.cfg

	info := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", info.String())
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.Server.Port).
		Str("backend", cfg.Player.Backend).
		Str("cache", cfg.Cache.Path).
		Str("cache_limit", audiocache.FormatSize(cfg.CacheMaxSize())).
		Int("cache_files", cfg.Cache.MaxFiles).
		Bool("resolver", cfg.Fetch.ResolverURL != "").
		Msg("Configuration")

	cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	controller := audio.NewController()
	out, err := newOutput(cfg, controller)
	if err != nil {
		return err
	}
	defer out.close()

	userAgent := cfg.Fetch.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	fetcher := fetch.NewClient(
		fetch.WithUserAgent(userAgent),
		fetch.WithTimeout(cfg.FetchTimeout()),
		fetch.WithRateLimit(cfg.Fetch.RequestsPerSecond, cfg.Fetch.Burst),
		fetch.WithMaxPayload(cfg.MaxPayload()),
	)

	engineOpts := []playback.Option{
		playback.WithStore(cache),
		playback.WithFetcher(fetcher),
		playback.WithVolume(cfg.Player.Volume),
		playback.WithMode(cfg.PlayMode()),
		playback.WithProgressInterval(cfg.ProgressInterval()),
	}
	if cfg.Fetch.ResolverURL != "" {
		resolver := fetch.NewResolver(cfg.Fetch.ResolverURL, fetch.WithResolverUserAgent(userAgent))
		engineOpts = append(engineOpts, playback.WithResolver(resolver))
	}
	engine := playback.NewEngine(out.backend, engineOpts...)
	defer engine.Close()

	plays := history.NewStore(cfg.History.Path, cfg.History.MaxEntries)
	unsubscribe := engine.Subscribe(plays.Listener())
	defer plays.Flush()
	defer unsubscribe()

	serverOpts := []socketio.Option{
		socketio.WithCache(cache),
		socketio.WithHistory(plays),
		socketio.WithAudioController(controller),
		socketio.WithMaxExternalClients(cfg.Server.MaxExternalClients),
	}
	if out.activator != nil {
		serverOpts = append(serverOpts, socketio.WithActivator(out.activator))
	}
	socketServer, err := socketio.NewServer(engine, serverOpts...)
	if err != nil {
		return err
	}
	defer socketServer.Close()

	server := &http.Server{
		Addr:        cfg.Address(),
		Handler:     corsMiddleware(cfg.Server.AllowedOrigin, newMux(cfg, engine, cache, socketServer)),
		ReadTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		engine.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if out.run != nil {
		g.Go(func() error { return out.run(ctx) })
	}

	if path := cmd.String("config"); fileExists(path) {
		g.Go(func() error {
			return config.Watch(ctx, path, func(next *config.Config) {
				applyCacheLimits(cache, next)
			})
		})
	}

	err = g.Wait()
	log.Info().Msg("Server stopped")
	return err
}

// newOutput builds the backend selected by [player] backend.
func newOutput(cfg *config.Config, controller *audio.Controller) (*output, error) {
	switch cfg.Player.Backend {
	case config.BackendMPD:
		client := mpd.NewClient(cfg.MPD.Host, cfg.MPD.Port, cfg.MPD.Password)
		if err := client.Connect(); err != nil {
			return nil, err
		}
		if err := client.Ping(); err != nil {
			client.Close()
			return nil, err
		}
		log.Info().Str("addr", client.Addr()).Msg("MPD connection verified")

		backend := mpd.NewBackend(client, cfg.MPD.SpoolDir, mpd.WithController(controller))
		return &output{backend: backend, run: backend.Run, close: client.Close}, nil

	default:
		clock := audio.NewClock(
			audio.WithActivation(cfg.Player.RequireActivation),
			audio.WithController(controller),
		)
		return &output{backend: clock, activator: clock, close: func() error { return nil }}, nil
	}
}

// applyCacheLimits hands reloaded [cache] limits to the live cache.
func applyCacheLimits(cache *audiocache.Cache, cfg *config.Config) {
	if err := cache.SetLimits(cfg.CacheMaxSize(), cfg.Cache.MaxFiles); err != nil {
		log.Warn().Err(err).Msg("Failed to apply cache limits")
		return
	}
	log.Info().
		Str("max_size", audiocache.FormatSize(cfg.CacheMaxSize())).
		Int("max_files", cfg.Cache.MaxFiles).
		Msg("Cache limits updated")
}

// newMux routes Socket.IO, the REST fallbacks and the optional web UI.
func newMux(cfg *config.Config, engine *playback.Engine, cache *audiocache.Cache, socketServer *socketio.Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/socket.io/", socketServer)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, err := cache.Stats()
		writeJSON(w, map[string]any{
			"status":  "ok",
			"state":   engine.Snapshot().State,
			"cache":   err == nil,
			"clients": socketServer.ClientCount(),
		})
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, version.GetInfo())
	})

	mux.HandleFunc("/api/v1/getState", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, engine.Snapshot().ToMap())
	})

	mux.HandleFunc("/api/v1/cache", func(w http.ResponseWriter, r *http.Request) {
		stats, err := cache.Stats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stats)
	})

	if dir := cfg.Server.StaticDir; dir != "" {
		log.Info().Str("dir", dir).Msg("Serving static files")
		mux.Handle("/", spaHandler(dir))
	}
	return mux
}

// spaHandler serves dir, falling back to index.html for client-side routes.
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if r.URL.Path == "/" || !fileExists(path) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
