package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newHandlerServer builds the HTTP surface without running the hub loop.
func newHandlerServer(t *testing.T, results ResultStore) (*server, *TestContext) {
	ctx := newTestContext(t)
	srv := &server{
		cfg:      defaultConfig(),
		registry: ctx.registry,
		hub:      newHub(10, 10, false),
		results:  results,
	}
	return srv, ctx
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRoomInfo(t *testing.T) {
	srv, ctx := newHandlerServer(t, nil)
	h := srv.routes()
	ps := ctx.setupRoom(3)

	rec := get(t, h, "/api/rooms/"+strings.ToLower(ps[0].code), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var info RoomSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Code != ps[0].code || info.PlayerCount != 3 || info.HostName != "Alice" || !info.Joinable {
		t.Errorf("room info %+v", info)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	rec = get(t, h, "/api/rooms/NOPE42", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown room status %d", rec.Code)
	}
	var e ErrorData
	json.Unmarshal(rec.Body.Bytes(), &e)
	if e.Message != ErrRoomNotFound.Error() {
		t.Errorf("error body %q", rec.Body)
	}
}

func TestHandleRoomQR(t *testing.T) {
	srv, ctx := newHandlerServer(t, nil)
	h := srv.routes()
	host := ctx.createRoom("Alice")

	rec := get(t, h, "/api/rooms/"+host.code+"/qr.png", map[string]string{"Accept-Encoding": "gzip"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if enc := rec.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("PNG was compressed with %q", enc)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("body is not a PNG")
	}

	if rec := get(t, h, "/api/rooms/NOPE42/qr.png", nil); rec.Code != http.StatusNotFound {
		t.Errorf("QR for unknown room: status %d", rec.Code)
	}
	if got := srv.joinURL(host.code); got != "http://localhost:8080/?room="+host.code {
		t.Errorf("joinURL = %q", got)
	}
}

func TestHandleLeaderboard(t *testing.T) {
	srv, _ := newHandlerServer(t, nil)
	if rec := get(t, srv.routes(), "/api/leaderboard", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("leaderboard without a store: status %d", rec.Code)
	}

	store := &memoryResultStore{}
	store.RecordGame(context.Background(), sampleRecord("AAAAAA", TeamTown,
		PlayerRecord{SessionID: "s-1", Name: "Alice", Role: RoleDoctor, Won: true},
		PlayerRecord{SessionID: "s-2", Name: "Bob", Role: RoleMafia, Won: false},
	))
	srv, _ = newHandlerServer(t, store)
	h := srv.routes()

	rec := get(t, h, "/api/leaderboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var board []LeaderboardEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &board); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(board) != 2 || board[0].Name != "Alice" || board[0].Wins != 1 {
		t.Errorf("leaderboard %+v", board)
	}

	if rec := get(t, h, "/api/leaderboard?limit=1", nil); !strings.Contains(rec.Body.String(), "Alice") || strings.Contains(rec.Body.String(), "Bob") {
		t.Errorf("limit=1 returned %s", rec.Body)
	}
	for _, bad := range []string{"abc", "0", "-3"} {
		if rec := get(t, h, "/api/leaderboard?limit="+bad, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status %d", bad, rec.Code)
		}
	}
	if rec := get(t, h, "/api/leaderboard?limit=100000", nil); rec.Code != http.StatusOK {
		t.Errorf("large limit: status %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newHandlerServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestGzipCompression(t *testing.T) {
	srv, _ := newHandlerServer(t, nil)
	h := srv.routes()

	rec := get(t, h, "/healthz", map[string]string{"Accept-Encoding": "gzip, deflate"})
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("JSON response not compressed, headers %v", rec.Header())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("decompressed body %s", body)
	}

	plain := get(t, h, "/healthz", nil)
	if plain.Header().Get("Content-Encoding") != "" || !strings.Contains(plain.Body.String(), `"status":"ok"`) {
		t.Errorf("uncompressed response %v %s", plain.Header(), plain.Body)
	}
}

func TestShouldCompress(t *testing.T) {
	tests := map[string]bool{
		"application/json":         true,
		"text/plain; charset=utf-8": true,
		"image/svg+xml":            true,
		"image/png":                false,
		"application/octet-stream": false,
	}
	for ct, want := range tests {
		if got := shouldCompress(ct); got != want {
			t.Errorf("shouldCompress(%q) = %v, want %v", ct, got, want)
		}
	}
}
