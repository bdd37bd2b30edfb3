// Package lastfm wraps the Last.fm API for scrobbling and reading a user's
// recently played tracks.
package lastfm

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shkh/lastfm-go/lastfm"
)

// ErrNotAuthenticated is returned when an operation requires a session key.
var ErrNotAuthenticated = errors.New("not authenticated")

// Last.fm error codes that will not succeed on retry.
var permanentCodes = map[int]bool{
	2:  true, // Invalid service
	3:  true, // Invalid method
	4:  true, // Authentication failed
	6:  true, // Invalid parameters
	9:  true, // Invalid session key
	10: true, // Invalid API key
	26: true, // Suspended API key
}

// MaxRecentTracks is the largest page user.getRecentTracks returns.
const MaxRecentTracks = 200

// Client wraps the Last.fm API.
type Client struct {
	api        *lastfm.Api
	apiKey     string
	sessionKey string
}

// New creates a new Last.fm client with the given API credentials.
func New(apiKey, apiSecret string) *Client {
	return &Client{
		api:    lastfm.New(apiKey, apiSecret),
		apiKey: apiKey,
	}
}

// SetSessionKey sets the authenticated session key.
func (c *Client) SetSessionKey(key string) {
	c.sessionKey = key
	c.api.SetSession(key)
}

// IsAuthenticated returns true if a session key is set.
func (c *Client) IsAuthenticated() bool {
	return c.sessionKey != ""
}

// UpdateNowPlaying sends a "now playing" notification.
func (c *Client) UpdateNowPlaying(track ScrobbleTrack) error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	if _, err := c.api.Track.UpdateNowPlaying(trackParams(track, false)); err != nil {
		return fmt.Errorf("update now playing: %w", err)
	}
	return nil
}

// Scrobble submits a track play.
func (c *Client) Scrobble(track ScrobbleTrack) error {
	if !c.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	if _, err := c.api.Track.Scrobble(trackParams(track, true)); err != nil {
		return fmt.Errorf("scrobble: %w", err)
	}
	return nil
}

// RecentTracks returns up to limit of user's most recent tracks, newest first.
// Zero from/to leave the range open.
func (c *Client) RecentTracks(user string, limit int, from, to time.Time) ([]RecentTrack, error) {
	if limit <= 0 || limit > MaxRecentTracks {
		limit = MaxRecentTracks
	}
	params := lastfm.P{
		"user":  user,
		"limit": limit,
	}
	if !from.IsZero() {
		params["from"] = from.Unix()
	}
	if !to.IsZero() {
		params["to"] = to.Unix()
	}

	result, err := c.api.User.GetRecentTracks(params)
	if err != nil {
		return nil, fmt.Errorf("get recent tracks: %w", err)
	}
	return FromRecentTracks(result), nil
}

// FromRecentTracks converts a user.getRecentTracks response.
func FromRecentTracks(result lastfm.UserGetRecentTracks) []RecentTrack {
	tracks := make([]RecentTrack, 0, len(result.Tracks))
	for _, t := range result.Tracks {
		rt := RecentTrack{
			Artist:     t.Artist.Name,
			ArtistMBID: t.Artist.Mbid,
			Track:      t.Name,
			MBID:       t.Mbid,
			Album:      t.Album.Name,
			AlbumMBID:  t.Album.Mbid,
			URL:        t.Url,
			NowPlaying: t.NowPlaying == "true",
		}
		if uts, err := strconv.ParseInt(t.Date.Uts, 10, 64); err == nil && uts > 0 {
			rt.PlayedAt = time.Unix(uts, 0).UTC()
		}
		tracks = append(tracks, rt)
	}
	return tracks
}

// IsPermanent reports whether err is a Last.fm API error that retrying cannot fix.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) {
		return true
	}
	var apiErr *lastfm.LastfmError
	if errors.As(err, &apiErr) {
		return permanentCodes[apiErr.Code]
	}
	return false
}

func trackParams(track ScrobbleTrack, withTimestamp bool) lastfm.P {
	params := lastfm.P{
		"artist": track.Artist,
		"track":  track.Track,
	}
	if withTimestamp {
		params["timestamp"] = track.Timestamp.Unix()
	}
	if track.Album != "" {
		params["album"] = track.Album
	}
	if track.AlbumArtist != "" && track.AlbumArtist != track.Artist {
		params["albumArtist"] = track.AlbumArtist
	}
	if track.Duration > 0 {
		params["duration"] = int(track.Duration.Seconds())
	}
	if ValidMBID(track.MBRecordingID) {
		params["mbid"] = track.MBRecordingID
	}
	return params
}

// ValidMBID reports whether s is a well-formed MusicBrainz identifier.
func ValidMBID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
