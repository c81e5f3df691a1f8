package monitor_test

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/game"
	"github.com/JoanyBuclon/Space-Invader/internal/lobby"
	"github.com/JoanyBuclon/Space-Invader/internal/monitor"
	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHealth(t *testing.T) {
	router := monitor.NewRouter(monitor.New(fakeSource{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if want, got := http.StatusOK, rec.Code; want != got {
		t.Fatalf("want status %d, got %d", want, got)
	}
	var health monitor.Health
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want, got := (monitor.Health{Status: "ok", Lobby: 3, ActiveGames: 1}), health; want != got {
		t.Errorf("want %+v, got %+v", want, got)
	}
}

func TestStats(t *testing.T) {
	router := monitor.NewRouter(monitor.New(fakeSource{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]int{"totalGames": 2, "activeGames": 1, "totalPlayers": 5, "uptime": 42}
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("want %s=%d, got %d", k, v, stats[k])
		}
	}
}

func TestGames(t *testing.T) {
	tests := map[string]struct {
		query      string
		wantStatus int
		wantIDs    []string
	}{
		"all":          {query: "", wantStatus: http.StatusOK, wantIDs: []string{"game-2", "game-1"}},
		"active":       {query: "?status=active", wantStatus: http.StatusOK, wantIDs: []string{"game-2"}},
		"completed":    {query: "?status=completed", wantStatus: http.StatusOK, wantIDs: []string{"game-1"}},
		"limit":        {query: "?limit=1", wantStatus: http.StatusOK, wantIDs: []string{"game-2"}},
		"bad status":   {query: "?status=paused", wantStatus: http.StatusBadRequest},
		"bad limit":    {query: "?limit=many", wantStatus: http.StatusBadRequest},
		"negative":     {query: "?limit=-1", wantStatus: http.StatusBadRequest},
		"empty status": {query: "?status=", wantStatus: http.StatusOK, wantIDs: []string{"game-2", "game-1"}},
	}

	router := monitor.NewRouter(monitor.New(fakeSource{}))
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/games"+tt.query, nil))

			if want, got := tt.wantStatus, rec.Code; want != got {
				t.Fatalf("want status %d, got %d: %s", want, got, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var games []game.Snapshot
			if err := json.NewDecoder(rec.Body).Decode(&games); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if want, got := len(tt.wantIDs), len(games); want != got {
				t.Fatalf("want %d games, got %d", want, got)
			}
			for i, id := range tt.wantIDs {
				if games[i].GameID != id {
					t.Errorf("want game %d to be %s, got %s", i, id, games[i].GameID)
				}
			}
		})
	}
}

func TestDashboard(t *testing.T) {
	srv := monitor.New(fakeSource{}, monitor.WithInterval(10*time.Millisecond))
	ts := httptest.NewServer(monitor.NewRouter(srv))
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/dashboard", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for range 2 {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var update monitor.Dashboard
		if err := conn.ReadJSON(&update); err != nil {
			t.Fatalf("read: %v", err)
		}
		if want, got := 2, len(update.Games); want != got {
			t.Errorf("want %d games, got %d", want, got)
		}
		if want, got := 5, update.Stats.TotalPlayers; want != got {
			t.Errorf("want %d players, got %d", want, got)
		}
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("want going away, got %v", err)
			}
			break
		}
	}
}

func TestDashboardRefusedAfterClose(t *testing.T) {
	srv := monitor.New(fakeSource{})
	ts := httptest.NewServer(monitor.NewRouter(srv))
	t.Cleanup(ts.Close)

	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/dashboard", nil)
	if err == nil {
		t.Fatal("want dial refused after close")
	}
	if resp == nil {
		t.Fatalf("want HTTP response, got %v", err)
	}
	defer resp.Body.Close()
	if want, got := http.StatusServiceUnavailable, resp.StatusCode; want != got {
		t.Errorf("want status %d, got %d", want, got)
	}
}

func TestLogs(t *testing.T) {
	logs := monitor.NewLogStream(slog.DiscardHandler, 10)
	logger := slog.New(logs).With(slog.String("component", "test"))
	logger.Info("before subscribe")

	srv := monitor.New(fakeSource{}, monitor.WithLogStream(logs))
	ts := httptest.NewServer(monitor.NewRouter(srv))
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/logs", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				lines <- line
			}
		}
	}()

	first := wait(t, lines)
	if !strings.Contains(first, "before subscribe") || !strings.Contains(first, "component=test") {
		t.Errorf("unexpected history line: %q", first)
	}

	logger.Warn("after subscribe")
	if second := wait(t, lines); !strings.Contains(second, "after subscribe") {
		t.Errorf("unexpected line: %q", second)
	}

	cancel()
	for range lines {
	}
}

func TestLogStreamHistory(t *testing.T) {
	logs := monitor.NewLogStream(slog.DiscardHandler, 2)
	logger := slog.New(logs)
	for _, msg := range []string{"one", "two", "three"} {
		logger.Info(msg)
	}

	history, ch := logs.Subscribe()
	defer logs.Unsubscribe(ch)

	if want, got := 2, len(history); want != got {
		t.Fatalf("want %d lines, got %d", want, got)
	}
	if !strings.Contains(history[0], "two") || !strings.Contains(history[1], "three") {
		t.Errorf("unexpected history: %q", history)
	}

	logs.Close()
	if _, ok := <-ch; ok {
		t.Error("want subscriber closed")
	}
}

type fakeSource struct{}

func (fakeSource) Games() []game.Snapshot {
	return []game.Snapshot{
		{GameID: "game-2", Status: game.StatusActive, StartedAt: 2000, TotalWaves: 5, CurrentWave: 1},
		{GameID: "game-1", Status: game.StatusCompleted, StartedAt: 1000, TotalWaves: 5, CurrentWave: 3},
	}
}

func (fakeSource) Stats() lobby.Stats {
	return lobby.Stats{TotalGames: 2, ActiveGames: 1, TotalPlayers: 5, UptimeSeconds: 42}
}

func (fakeSource) LobbySize() int   { return 3 }
func (fakeSource) ActiveGames() int { return 1 }

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for value")
	}

	var zero T
	return zero
}
