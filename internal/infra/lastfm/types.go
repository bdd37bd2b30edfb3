package lastfm

import "time"

// ScrobbleTrack contains track metadata for scrobbling.
type ScrobbleTrack struct {
	Artist        string
	Track         string
	Album         string
	AlbumArtist   string
	Duration      time.Duration
	Timestamp     time.Time // When playback started
	MBRecordingID string    // Optional MusicBrainz recording ID
}

// RecentTrack is one entry of a user's listening history.
type RecentTrack struct {
	Artist     string
	ArtistMBID string
	Track      string
	MBID       string
	Album      string
	AlbumMBID  string
	URL        string
	PlayedAt   time.Time // Zero for the now playing entry
	NowPlaying bool
}
