// Package server exposes the wifi driver over HTTP and streams its
// notifications to websocket clients.
package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/bbernstein/lacylights-wifi/internal/api"
	"github.com/bbernstein/lacylights-wifi/internal/services/network"
	"github.com/bbernstein/lacylights-wifi/internal/services/pubsub"
	"github.com/bbernstein/lacylights-wifi/internal/services/wifi"
	"github.com/bbernstein/lacylights-wifi/internal/telemetry"
)

// WiFi is the part of *wifi.Driver the HTTP API drives.
type WiFi interface {
	Start(ctx context.Context, kind wifi.InterfaceKind, ap *wifi.AccessPointConfig) error
	Stop(ctx context.Context) error
	NetworkJoin(ctx context.Context, ssid []byte, bssid net.HardwareAddr, sec *wifi.SecurityConfig) error
	NetworkLeave(ctx context.Context) error
	ScanNetwork(ctx context.Context) error
	ScanSpecificNetwork(ctx context.Context, ssid []byte, sec *wifi.SecurityConfig) error
	GetScanResults(ctx context.Context) (*wifi.ScanList, error)
	FreeScanResults(list *wifi.ScanList) wifi.ScanStats
	RegisterLinkCallback(ctx context.Context, up, down wifi.LinkFunc) error
	RegisterScanCallback(ctx context.Context, fn wifi.ScanFunc) error
	SetTxPower(ctx context.Context, dbm int) error
	GetTxPower(ctx context.Context) (int, error)
	SetCountryCode(ctx context.Context, cc string) error
	GetCountryCode(ctx context.Context) (string, error)
	GetMAC(ctx context.Context) (net.HardwareAddr, error)
	GetRSSI(ctx context.Context) (int, error)
	GetChannel(ctx context.Context) (int, error)
	IsConnected(ctx context.Context) (int, *wifi.Reason, error)
	SaveConfig(ctx context.Context) error
	ForcePanic(ctx context.Context) error
	State() wifi.Snapshot
}

var _ WiFi = (*wifi.Driver)(nil)

// Options configures the HTTP surface.
type Options struct {
	CORSOrigin  string
	Development bool
	Version     string
	// APProfilePath is a yaml profile used when an AP start carries none.
	APProfilePath string
	// Profiles keeps the last AP profile that started successfully. Optional.
	Profiles wifi.NVStore
	Lister   network.Lister
}

// Server routes HTTP requests to the driver.
type Server struct {
	wifi     WiFi
	ps       *pubsub.PubSub
	opts     Options
	started  time.Time
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates the server and its routes.
func New(w WiFi, ps *pubsub.PubSub, opts Options) *Server {
	telemetry.InitMetrics()

	s := &Server{
		wifi:    w,
		ps:      ps,
		opts:    opts,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for WebSocket
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{s.opts.CORSOrigin, "http://localhost:3000", "http://localhost:4000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		Debug:            s.opts.Development,
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		// The event stream outlives any request timeout.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/status", s.handleStatus)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/scan", s.handleScan)
			r.Get("/scan/results", s.handleScanResults)
			r.Post("/join", s.handleJoin)
			r.Post("/leave", s.handleLeave)
			r.Get("/txpower", s.handleGetTxPower)
			r.Put("/txpower", s.handleSetTxPower)
			r.Get("/country", s.handleGetCountry)
			r.Put("/country", s.handleSetCountry)
			r.Get("/mac", s.handleMAC)
			r.Get("/rssi", s.handleRSSI)
			r.Get("/channel", s.handleChannel)
			r.Post("/save", s.handleSave)
			r.Post("/panic", s.handlePanic)
			r.Get("/interfaces", s.handleInterfaces)
		})
	})

	return router
}

// Attach registers the link callbacks that feed the event stream. It is
// called at startup and again after every start, since stopping the driver
// drops its callbacks.
func (s *Server) Attach(ctx context.Context) error {
	return s.wifi.RegisterLinkCallback(ctx,
		func(r wifi.Reason) { s.publishLink(pubsub.TopicLinkUp, r) },
		func(r wifi.Reason) { s.publishLink(pubsub.TopicLinkDown, r) },
	)
}

func (s *Server) publishLink(topic pubsub.Topic, r wifi.Reason) {
	iface := s.wifi.State().Interface
	ev := api.Event{
		Topic:            string(topic),
		Interface:        iface,
		SSID:             string(r.SSID),
		Code:             r.Code,
		LocallyGenerated: r.LocallyGenerated,
		Time:             time.Now().UTC(),
	}
	if len(r.BSSID) > 0 {
		ev.BSSID = r.BSSID.String()
	}
	s.ps.Publish(topic, iface, ev)
}

func (s *Server) publishScan() {
	snap := s.wifi.State()
	status := api.NewStatus(snap, 0, nil)
	s.ps.Publish(pubsub.TopicScanResult, snap.Interface, api.Event{
		Topic:     string(pubsub.TopicScanResult),
		Interface: snap.Interface,
		State:     &status,
		Time:      time.Now().UTC(),
	})
}

func (s *Server) publishState() {
	snap := s.wifi.State()
	status := api.NewStatus(snap, snap.Stations, nil)
	s.ps.Publish(pubsub.TopicState, snap.Interface, api.Event{
		Topic:     string(pubsub.TopicState),
		Interface: snap.Interface,
		State:     &status,
		Time:      time.Now().UTC(),
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://localhost%s\n", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
