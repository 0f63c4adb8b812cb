// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/tasselx/taimusic/internal/audio"
	"github.com/tasselx/taimusic/internal/domain/playback"
)

// Defaults for NewServer.
const (
	DefaultMaxExternalClients = 4
	DefaultDebounceWindow     = 50 * time.Millisecond
)

// stateCompareKeys are the pushState fields whose change warrants a
// broadcast. Seek is left out: clients interpolate it and pushProgress
// carries the real position.
var stateCompareKeys = []string{
	"status", "position", "id", "title", "artist", "album", "albumart", "uri",
	"volume", "mute", "duration", "playMode", "queueLength",
}

// Activator is an output that needs an explicit user gesture before it can play.
type Activator interface {
	Activate()
}

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	engine    *playback.Engine
	activator Activator
	audio     *audio.Controller
	cache     *CacheHandlers

	limiter     *ConnectionLimiter
	maxExternal int
	debouncer   *BroadcastDebouncer
	window      time.Duration
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	clients   map[string]*socket.Socket
	lastState map[string]interface{}
}

// Option configures a Server.
type Option func(*Server)

// WithCache exposes the content cache to clients.
func WithCache(store CacheStore) Option {
	return func(s *Server) {
		s.cache.store = store
	}
}

// WithHistory exposes play history to clients.
func WithHistory(h HistoryStore) Option {
	return func(s *Server) {
		s.cache.history = h
	}
}

// WithActivator lets clients satisfy the output's activation requirement.
func WithActivator(a Activator) Option {
	return func(s *Server) {
		s.activator = a
	}
}

// WithAudioController reports the output format to clients.
func WithAudioController(c *audio.Controller) Option {
	return func(s *Server) {
		s.audio = c
	}
}

// WithMaxExternalClients caps concurrent non-local clients.
func WithMaxExternalClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxExternal = n
		}
	}
}

// WithDebounceWindow sets how long state broadcasts are held back to collapse bursts.
func WithDebounceWindow(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewServer creates a new Socket.io server mirroring engine to its clients.
func NewServer(engine *playback.Engine, opts ...Option) (*Server, error) {
	// Configure Socket.io server options
	sopts := socket.DefaultServerOptions()
	sopts.SetPingTimeout(20 * time.Second)
	sopts.SetPingInterval(25 * time.Second)
	sopts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		io:          socket.NewServer(nil, sopts),
		engine:      engine,
		maxExternal: DefaultMaxExternalClients,
		window:      DefaultDebounceWindow,
		ctx:         ctx,
		cancel:      cancel,
		clients:     make(map[string]*socket.Socket),
	}
	s.cache = &CacheHandlers{server: s}
	for _, opt := range opts {
		opt(s)
	}

	s.limiter = NewConnectionLimiter(s.maxExternal)
	s.debouncer = NewBroadcastDebouncer(s.window, s.BroadcastState, s.BroadcastQueue)
	s.unsubscribe = engine.Subscribe(playback.ListenerFunc(s.onEngineEvent))

	s.setupHandlers()

	return s, nil
}

// onEngineEvent mirrors engine notifications to clients.
func (s *Server) onEngineEvent(ev playback.Event) {
	switch ev.Type {
	case playback.EventProgress:
		s.io.Emit("pushProgress", ProgressPayload{
			Position: ev.Position.Seconds(),
			Duration: ev.Duration.Seconds(),
		})
	case playback.EventLoadError:
		if ev.Err != nil {
			s.io.Emit("pushError", errorPayload(ev.Err))
		}
		s.debouncer.Trigger(ev.Type)
	case playback.EventLoad:
		s.debouncer.Trigger(ev.Type)
		if s.audio != nil {
			s.BroadcastAudioStatus()
		}
	default:
		s.debouncer.Trigger(ev.Type)
	}
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		remoteIP := clientIP(client.Handshake().Address)

		log.Info().Str("id", clientID).Str("ip", remoteIP).Msg("Client connected")

		evicted := s.limiter.TryAdd(clientID, remoteIP)

		s.mu.Lock()
		s.clients[clientID] = client
		old := s.clients[evicted]
		s.mu.Unlock()

		if old != nil {
			log.Info().Str("id", evicted).Msg("Too many external clients, disconnecting oldest")
			old.Disconnect(true)
		}

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
			s.pushQueue(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("getQueue", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getQueue")
			s.pushQueue(client)
		})

		client.On("getSystemInfo", func(args ...any) {
			client.Emit("pushSystemInfo", GetSystemInfo())
		})

		client.On("getAudioStatus", func(args ...any) {
			if s.audio != nil {
				client.Emit("pushAudioStatus", s.audio.GetStatus())
			}
		})

		s.registerPlayerHandlers(client, clientID)
		s.cache.RegisterHandlers(client)
	})
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.engine.Snapshot().ToMap())
}

// pushQueue sends current queue to a client.
func (s *Server) pushQueue(client *socket.Socket) {
	client.Emit("pushQueue", queuePayload(s.engine.Snapshot().Queue))
}

// BroadcastState sends state to all connected clients when it differs from
// the last broadcast.
func (s *Server) BroadcastState() {
	state := s.engine.Snapshot().ToMap()
	if s.isStateSame(state) {
		return
	}
	s.saveLastState(state)

	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastQueue sends queue to all connected clients.
func (s *Server) BroadcastQueue() {
	s.io.Emit("pushQueue", queuePayload(s.engine.Snapshot().Queue))
}

// BroadcastAudioStatus sends output status to all connected clients.
func (s *Server) BroadcastAudioStatus() {
	status := s.audio.GetStatus()
	s.io.Emit("pushAudioStatus", status)
	log.Debug().Bool("locked", status.Locked).Interface("format", status.Format).Msg("Broadcast audio status")
}

func (s *Server) isStateSame(state map[string]interface{}) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastState == nil {
		return false
	}
	for _, key := range stateCompareKeys {
		if !reflect.DeepEqual(s.lastState[key], state[key]) {
			return false
		}
	}
	return true
}

func (s *Server) saveLastState(state map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastState = state
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close detaches from the engine and closes the Socket.io server.
func (s *Server) Close() error {
	s.cancel()
	s.unsubscribe()
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
