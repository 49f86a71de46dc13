package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"
)

const (
	qrSize           = 256
	leaderboardLimit = 20
	leaderboardMax   = 100
)

// server bundles what the HTTP handlers need.
type server struct {
	cfg      AppConfig
	registry *RoomRegistry
	hub      *Hub
	results  ResultStore
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.hub.serveWS)
	api := r.NewRoute().Subrouter()
	api.Use(disableCaching, compress)
	api.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/api/rooms/{code}", s.handleRoomInfo).Methods(http.MethodGet)
	api.HandleFunc("/api/rooms/{code}/qr.png", s.handleRoomQR).Methods(http.MethodGet)
	api.HandleFunc("/api/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)

	// outside the router so preflights reach it even on GET-only routes
	h := corsMiddleware(r)
	if appLogger != nil && appLogger.logRequests {
		h = &LoggingHandler{Handler: h, Logger: appLogger}
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("writeJSON", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"rooms":   s.registry.RoomCount(),
		"clients": s.hub.clientCount(),
	})
}

func (s *server) handleRoomInfo(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.RoomInfo(mux.Vars(r)["code"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorData{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// joinURL is the link a QR code points at.
func (s *server) joinURL(code string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	return base + "/?room=" + url.QueryEscape(code)
}

func (s *server) handleRoomQR(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.RoomInfo(mux.Vars(r)["code"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode(s.joinURL(summary.Code), qrcode.Medium, qrSize)
	if err != nil {
		logError("handleRoomQR: encode", err)
		http.Error(w, "failed to render QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}

func (s *server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorData{Message: "results are disabled"})
		return
	}
	limit := leaderboardLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorData{Message: "invalid limit"})
			return
		}
		limit = min(n, leaderboardMax)
	}
	entries, err := s.results.Leaderboard(r.Context(), limit)
	if err != nil {
		logError("handleLeaderboard", err)
		writeJSON(w, http.StatusInternalServerError, ErrorData{Message: "failed to load leaderboard"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// corsMiddleware lets a separately hosted frontend call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")

		if isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// shouldCompress determines if a content type should be gzip compressed
// Compresses text-based formats but not binary formats like images
func shouldCompress(contentType string) bool {
	compressiblePrefixes := []string{
		"text/",
		"application/json",
		"image/svg",
	}
	for _, prefix := range compressiblePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

// responseWriter wraps http.ResponseWriter to handle conditional gzip compression
type responseWriter struct {
	http.ResponseWriter
	gz         *gzip.Writer
	acceptGzip bool
	headerSent bool
}

// WriteHeader checks content type and sets up compression if appropriate
func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	contentType := w.Header().Get("Content-Type")
	if contentType != "" && shouldCompress(contentType) && w.acceptGzip {
		w.gz = gzip.NewWriter(w.ResponseWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// Write writes to gzip writer if it exists, otherwise to original writer
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		w.WriteHeader(http.StatusOK)
	}
	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Close closes the gzip writer if it exists
func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

// compress adds gzip compression to compressible responses
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

func main() {
	flags := flag.CommandLine
	fv := registerFlags(flags)
	flag.Parse()

	cfg := loadConfig(*fv.configPath, *fv.envPath)
	fv.applyTo(flags, &cfg)

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("mafia.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	if err := InitAppLogger(cfg.toLogConfig()); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()
	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := openResultStore(ctx, cfg.DB)
	if err != nil {
		log.Fatal("Failed to open result store:", err)
	}

	hub := newHub(cfg.WSRate, cfg.WSBurst, cfg.Dev)
	registry := NewRoomRegistry(cfg.gameConfig(), hub, results, initNarrator(cfg))
	hub.attach(registry)

	srv := &server{cfg: cfg, registry: registry, hub: hub, results: results}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.run(gctx) })
	g.Go(func() error { return registry.RunJanitor(gctx) })
	g.Go(func() error {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logError("main", err)
	}

	registry.Shutdown()
	if results != nil {
		if err := results.Close(); err != nil {
			logError("main: close result store", err)
		}
	}
	log.Println("Server stopped")
}
