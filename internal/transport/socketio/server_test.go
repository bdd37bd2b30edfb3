package socketio_test

import (
	"testing"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/discovery"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/player"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
	"github.com/edumarques81/stellar-scrobbler/internal/transport/socketio"
)

type fixedStatus struct {
	status discovery.Status
}

func (f fixedStatus) Status() discovery.Status { return f.status }

var _ discovery.Notifier = (*socketio.Server)(nil)

func TestNewServer(t *testing.T) {
	server, err := socketio.NewServer(nil)
	if err != nil {
		t.Errorf("NewServer should not return error: %v", err)
	}
	if server == nil {
		t.Fatal("NewServer should return a non-nil server")
	}

	if err := server.Close(); err != nil {
		t.Errorf("Close should not error: %v", err)
	}
}

func TestServerStatus(t *testing.T) {
	server, err := socketio.NewServer(nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	st := server.Status()
	if st.Sources == nil || st.Clients == nil {
		t.Error("empty status should have non-nil lists")
	}

	want := discovery.Status{Sources: []discovery.PollerStatus{{Source: "mpd", Polls: 3}}}
	server2, _ := socketio.NewServer(fixedStatus{status: want})
	defer server2.Close()
	if got := server2.Status(); len(got.Sources) != 1 || got.Sources[0].Polls != 3 {
		t.Errorf("Status() = %+v, want %+v", got, want)
	}
}

func TestServerNowPlayingKeepsLatestPerPlatform(t *testing.T) {
	server, err := socketio.NewServer(nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	kitchen := play.PlatformID{Source: "mpd", Device: "kitchen:6600"}
	office := play.PlatformID{Source: "mpd", Device: "office:6600"}
	p := play.Play{Data: play.Data{Track: "Song", Artists: []string{"Artist"}}}

	// No clients connected: broadcasting must not panic
	server.NowPlaying("mpd", source.PlayerStateData{Platform: office, Status: player.StatusPlaying, Play: &p})
	server.NowPlaying("mpd", source.PlayerStateData{Platform: kitchen, Status: player.StatusPlaying, Play: &p})
	server.NowPlaying("mpd", source.PlayerStateData{Platform: office, Status: player.StatusStopped})

	events := server.NowPlayingEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Platform != "mpd/kitchen:6600" || events[0].Play == nil {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if events[1].Status != "stopped" || events[1].Play != nil {
		t.Errorf("office should be stopped without a play, got %+v", events[1])
	}
}

func TestServerPlayEventsWithoutClients(t *testing.T) {
	server, err := socketio.NewServer(nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	p := play.Play{Data: play.Data{Track: "Song"}}
	server.Discovered("mpd", p)
	server.Scrobbled("lastfm", p)

	if n := server.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}
