package game_test

import (
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/JoanyBuclon/Space-Invader/internal/game"
	"github.com/JoanyBuclon/Space-Invader/internal/protocol"
	"github.com/JoanyBuclon/Space-Invader/internal/protocol/protocoltest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSessionVictory(t *testing.T) {
	s, conns := newSession(t, testConfig(), "alice")
	alice := conns["alice"]

	s.Start()
	started := alice.Wait(t, protocol.TypeGameStarted, 1).(protocol.GameStarted)
	if want, got := 2, started.NumberOfWaves; want != got {
		t.Errorf("want %d waves, got %d", want, got)
	}
	if want, got := 3, started.LifePoints; want != got {
		t.Errorf("want %d lives, got %d", want, got)
	}

	wave := alice.Wait(t, protocol.TypeWaveStarted, 1).(protocol.WaveStarted)
	if want, got := (protocol.WaveStarted{WaveNumber: 1, NumberOfEnemies: 5, NumberOfLines: 2, EnemyLife: 1}), wave; want != got {
		t.Errorf("want %+v, got %+v", want, got)
	}

	s.EnemyKilled("alice")
	s.WaveCleared("alice")
	alice.Wait(t, protocol.TypeWaveStarted, 2)

	s.EnemyKilled("alice")
	s.EnemyKilled("alice")
	s.WaveCleared("alice")

	res := wait(t, s.Done())
	if !res.Victory || res.AllPlayersDead {
		t.Errorf("want victory, got %+v", res)
	}
	want := []protocol.PlayerStat{{Pseudo: "alice", TotalKills: 3, WavesCleared: 2, Survived: true}}
	if !slices.Equal(want, res.Stats) {
		t.Errorf("want stats %+v, got %+v", want, res.Stats)
	}
	if want, got := 1, len(res.Survivors); want != got {
		t.Errorf("want %d survivors, got %d", want, got)
	}

	ended := alice.Wait(t, protocol.TypeGameEnded, 1).(protocol.GameEnded)
	if !ended.Victory {
		t.Error("want victory in game-ended")
	}
	if _, ok := <-s.Done(); ok {
		t.Error("result must be delivered once")
	}
}

func TestSessionPlayerDeath(t *testing.T) {
	s, conns := newSession(t, testConfig(), "alice", "bob")
	alice, bob := conns["alice"], conns["bob"]

	s.Start()
	bob.Wait(t, protocol.TypeWaveStarted, 1)

	s.PlayerTouched("alice")
	s.PlayerTouched("alice")
	if info := player(t, s, "alice"); !info.IsAlive || info.Lives != 1 {
		t.Fatalf("want alice alive with 1 life, got %+v", info)
	}

	s.PlayerTouched("alice")
	info := player(t, s, "alice")
	if info.IsAlive || !info.HasClearedWave || info.Lives != 0 {
		t.Fatalf("want alice dead and done with the wave, got %+v", info)
	}

	s.PlayerTouched("alice")
	if want, got := 0, player(t, s, "alice").Lives; want != got {
		t.Errorf("lives must not go negative, got %d", got)
	}

	s.WaveCleared("bob")
	bob.Wait(t, protocol.TypeWaveStarted, 2)
	alice.Wait(t, protocol.TypeWaveStarted, 2)

	info = player(t, s, "alice")
	if info.IsAlive || !info.HasClearedWave {
		t.Errorf("dead player must stay done across waves, got %+v", info)
	}

	s.PlayerKilled("bob")
	res := wait(t, s.Done())
	if res.Victory || !res.AllPlayersDead {
		t.Errorf("want defeat, got %+v", res)
	}
	if want, got := 2, len(res.Survivors); want != got {
		t.Errorf("connected players survive a wipe, want %d got %d", want, got)
	}
}

func TestSessionWatchdog(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 50 * time.Millisecond

	s, conns := newSession(t, cfg, "alice", "bob")
	bob := conns["bob"]

	s.Start()
	bob.Wait(t, protocol.TypeWaveStarted, 1)

	if want, got := []string{"watchdog:alice", "watchdog:bob"}, sorted(s.PendingTimers()); !slices.Equal(want, got) {
		t.Errorf("want timers %v, got %v", want, got)
	}

	s.WaveCleared("bob")
	if want, got := []string{"watchdog:alice"}, sorted(s.PendingTimers()); !slices.Equal(want, got) {
		t.Errorf("want timers %v, got %v", want, got)
	}

	bob.Wait(t, protocol.TypeWaveStarted, 2)
	info := player(t, s, "alice")
	if info.IsAlive || !info.HasClearedWave || info.Lives != 0 {
		t.Errorf("want inactive alice dead, got %+v", info)
	}
}

func TestSessionSolePlayerDies(t *testing.T) {
	cfg := testConfig()
	cfg.StartingLives = 1

	s, conns := newSession(t, cfg, "alice")
	alice := conns["alice"]

	s.Start()
	alice.Wait(t, protocol.TypeWaveStarted, 1)

	s.PlayerTouched("alice")

	info := player(t, s, "alice")
	if info.IsAlive || !info.HasClearedWave || info.Lives != 0 {
		t.Errorf("want alice dead and done with the wave, got %+v", info)
	}

	ended := alice.Wait(t, protocol.TypeGameEnded, 1).(protocol.GameEnded)
	if ended.Victory {
		t.Error("want defeat in game-ended")
	}
	want := []protocol.PlayerStat{{Pseudo: "alice", TotalKills: 0, WavesCleared: 0, Survived: false}}
	if !slices.Equal(want, ended.PlayerStats) {
		t.Errorf("want stats %+v, got %+v", want, ended.PlayerStats)
	}

	res := wait(t, s.Done())
	if !res.AllPlayersDead {
		t.Errorf("want all players dead, got %+v", res)
	}
	if want, got := game.StatusCompleted, s.Snapshot().Status; want != got {
		t.Errorf("want status %s, got %s", want, got)
	}
}

func TestSessionWatchdogCompletesWaveOnce(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 30 * time.Millisecond
	cfg.NextWaveDelay = time.Minute

	s, conns := newSession(t, cfg, "alice", "bob")
	bob := conns["bob"]

	s.Start()
	bob.Wait(t, protocol.TypeWaveStarted, 1)
	s.WaveCleared("bob")

	deadline := time.Now().Add(5 * time.Second)
	for player(t, s, "alice").IsAlive {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for the watchdog")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Let any extra fire for alice surface.
	time.Sleep(3 * cfg.InactivityTimeout)

	if want, got := []string{"wave"}, s.PendingTimers(); !slices.Equal(want, got) {
		t.Errorf("want a single pending wave advance, got timers %v", got)
	}
	if want, got := 1, bob.Count(protocol.TypeWaveStarted); want != got {
		t.Errorf("want %d wave-started, got %d", want, got)
	}
	if want, got := 0, bob.Count(protocol.TypeGameEnded); want != got {
		t.Errorf("want game still running, got %d game-ended", got)
	}
	if want, got := 1, s.Snapshot().CurrentWave; want != got {
		t.Errorf("want wave %d, got %d", want, got)
	}
}

func TestSessionWatchdogReset(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 80 * time.Millisecond

	s, conns := newSession(t, cfg, "alice")

	s.Start()
	conns["alice"].Wait(t, protocol.TypeWaveStarted, 1)

	for range 4 {
		time.Sleep(40 * time.Millisecond)
		s.EnemyKilled("alice")
	}

	if info := player(t, s, "alice"); !info.IsAlive || info.Kills != 4 {
		t.Errorf("active player must stay alive, got %+v", info)
	}
}

func TestSessionSimultaneousClears(t *testing.T) {
	cfg := testConfig()
	cfg.NextWaveDelay = time.Minute

	s, conns := newSession(t, cfg, "alice", "bob")
	s.Start()
	conns["alice"].Wait(t, protocol.TypeWaveStarted, 1)

	var wg sync.WaitGroup
	for _, pseudo := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.WaveCleared(pseudo)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	for _, p := range snap.Players {
		if !p.HasClearedWave {
			t.Errorf("want %s done with the wave", p.Pseudo)
		}
	}
	if want, got := []string{"wave"}, s.PendingTimers(); !slices.Equal(want, got) {
		t.Errorf("want timers %v, got %v", want, got)
	}
}

func TestSessionDisconnect(t *testing.T) {
	s, conns := newSession(t, testConfig(), "alice", "bob")
	alice, bob := conns["alice"], conns["bob"]

	s.Start()
	bob.Wait(t, protocol.TypeWaveStarted, 1)

	s.PlayerDisconnected("alice")
	s.PlayerDisconnected("alice")
	if want, got := 1, s.ConnectedPlayers(); want != got {
		t.Errorf("want %d connected players, got %d", want, got)
	}

	s.WaveCleared("bob")
	bob.Wait(t, protocol.TypeWaveStarted, 2)
	if want, got := 1, alice.Count(protocol.TypeWaveStarted); want != got {
		t.Errorf("disconnected player must not receive events, got %d wave-started", got)
	}

	s.WaveCleared("bob")
	res := wait(t, s.Done())
	if !res.Victory {
		t.Error("want victory")
	}
	if want, got := 1, len(res.Survivors); want != got || res.Survivors[0].Pseudo != "bob" {
		t.Errorf("want only bob to survive, got %+v", res.Survivors)
	}
}

func TestSessionClosedConnectionIsNotSurvivor(t *testing.T) {
	s, conns := newSession(t, testConfig(), "alice", "bob")
	s.Start()
	conns["alice"].Wait(t, protocol.TypeWaveStarted, 1)

	conns["bob"].Close()
	s.PlayerKilled("alice")
	s.PlayerKilled("bob")

	res := wait(t, s.Done())
	if want, got := 1, len(res.Survivors); want != got || res.Survivors[0].Pseudo != "alice" {
		t.Errorf("want only alice to survive, got %+v", res.Survivors)
	}
}

func TestSessionFailingDelivery(t *testing.T) {
	failing := protocoltest.NewFailingConn()
	bob := protocoltest.NewConn()
	s := game.NewSession("game-1", []game.PlayerConn{
		{Pseudo: "alice", Conn: failing},
		{Pseudo: "bob", Conn: bob},
	}, testConfig(), slog.Default())
	t.Cleanup(s.Close)

	s.Start()
	bob.Wait(t, protocol.TypeGameStarted, 1)
	bob.Wait(t, protocol.TypeWaveStarted, 1)
}

func TestSessionCompleted(t *testing.T) {
	s, conns := newSession(t, testConfig(), "alice")
	alice := conns["alice"]

	s.Start()
	alice.Wait(t, protocol.TypeWaveStarted, 1)
	s.PlayerKilled("alice")
	wait(t, s.Done())

	before := s.Snapshot()
	if want, got := game.StatusCompleted, before.Status; want != got {
		t.Errorf("want status %s, got %s", want, got)
	}
	if _, ok := s.CompletedAt(); !ok {
		t.Error("want completion time")
	}

	events := len(alice.Events())
	s.PlayerTouched("alice")
	s.EnemyKilled("alice")
	s.WaveCleared("alice")
	s.PlayerDisconnected("alice")
	s.Start()

	if want, got := before, s.Snapshot(); !slices.EqualFunc(want.Players, got.Players, func(a, b game.PlayerInfo) bool { return a == b }) {
		t.Errorf("completed session changed: want %+v, got %+v", want, got)
	}
	if want, got := events, len(alice.Events()); want != got {
		t.Errorf("completed session sent %d events", got-want)
	}
	if got := s.PendingTimers(); len(got) != 0 {
		t.Errorf("want no timers, got %v", got)
	}
}

func TestSessionUnknownPlayer(t *testing.T) {
	s, conns := newSession(t, testConfig(), "alice")
	s.Start()
	conns["alice"].Wait(t, protocol.TypeWaveStarted, 1)

	s.PlayerTouched("mallory")
	s.EnemyKilled("mallory")
	s.WaveCleared("mallory")
	s.PlayerKilled("mallory")
	s.PlayerDisconnected("mallory")

	if want, got := 1, len(s.Snapshot().Players); want != got {
		t.Errorf("want %d players, got %d", want, got)
	}
	if !s.Active() {
		t.Error("want session active")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		modify  func(*game.Config)
		wantErr bool
	}{
		"default":           {modify: func(*game.Config) {}},
		"no lives":          {modify: func(c *game.Config) { c.StartingLives = 0 }, wantErr: true},
		"no waves":          {modify: func(c *game.Config) { c.Waves = nil }, wantErr: true},
		"negative duration": {modify: func(c *game.Config) { c.NextWaveDelay = -time.Second }, wantErr: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := game.DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("want error %t, got %v", tt.wantErr, err)
			}
		})
	}
}

func testConfig() game.Config {
	return game.Config{
		StartingLives:     3,
		Waves:             game.DefaultWaves()[:2],
		InactivityTimeout: time.Minute,
		FirstWaveDelay:    time.Millisecond,
		NextWaveDelay:     time.Millisecond,
	}
}

func newSession(t *testing.T, cfg game.Config, pseudos ...string) (*game.Session, map[string]*protocoltest.Conn) {
	t.Helper()

	conns := make(map[string]*protocoltest.Conn, len(pseudos))
	roster := make([]game.PlayerConn, 0, len(pseudos))
	for _, pseudo := range pseudos {
		conn := protocoltest.NewConn()
		conns[pseudo] = conn
		roster = append(roster, game.PlayerConn{Pseudo: pseudo, Conn: conn, JoinedAt: time.Now()})
	}

	s := game.NewSession("game-1", roster, cfg, slog.Default())
	t.Cleanup(s.Close)

	return s, conns
}

func player(t *testing.T, s *game.Session, pseudo string) game.PlayerInfo {
	t.Helper()

	for _, p := range s.Snapshot().Players {
		if p.Pseudo == pseudo {
			return p
		}
	}

	t.Fatalf("player %q not found", pseudo)
	return game.PlayerInfo{}
}

func sorted(s []string) []string {
	slices.Sort(s)
	return s
}

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
