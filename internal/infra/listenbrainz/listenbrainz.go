// Package listenbrainz submits listens to, and reads listens from, a ListenBrainz server.
package listenbrainz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/version"
)

const (
	BaseURL = "https://api.listenbrainz.org"

	submitPath           = "/1/submit-listens"
	listensPath          = "/1/user/%s/listens"
	listenTypeSingle     = "single"
	listenTypePlayingNow = "playing_now"

	// MaxListens is the largest count the listens endpoint accepts.
	MaxListens = 1000
)

var (
	ErrListenBrainz = errors.New("listenbrainz error")
	ErrUnauthorized = fmt.Errorf("unauthorized: %w", ErrListenBrainz)
	ErrBadRequest   = fmt.Errorf("bad request: %w", ErrListenBrainz)
)

// Listen is a single submission or fetched listen.
type Listen struct {
	Artist        string
	Track         string
	Release       string
	RecordingMBID string
	ReleaseMBID   string
	Duration      time.Duration
	ListenedAt    time.Time
}

// Client talks to one ListenBrainz account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	user       string
}

// NewClient creates a client for user authenticated with token. An empty
// baseURL uses the public ListenBrainz API.
func NewClient(baseURL, token, user string) *Client {
	return NewClientCustom(http.DefaultClient, baseURL, token, user)
}

// NewClientCustom is NewClient with a caller supplied http.Client.
func NewClientCustom(httpClient *http.Client, baseURL, token, user string) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		user:       user,
	}
}

// User returns the account name listens are read from.
func (c *Client) User() string {
	return c.user
}

// Submit records a completed listen.
func (c *Client) Submit(ctx context.Context, listen Listen) error {
	return c.submit(ctx, listenTypeSingle, listen)
}

// PlayingNow announces a listen in progress.
func (c *Client) PlayingNow(ctx context.Context, listen Listen) error {
	return c.submit(ctx, listenTypePlayingNow, listen)
}

func (c *Client) submit(ctx context.Context, listenType string, listen Listen) error {
	payload := &Payload{TrackMetadata: toMetadata(listen)}
	if listenType == listenTypeSingle {
		payload.ListenedAt = listen.ListenedAt.Unix()
	}
	sub := Submission{ListenType: listenType, Payload: []*Payload{payload}}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(sub); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", "Token "+c.token)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}

// Listens returns up to count of the user's listens made at or before maxTs,
// newest first. A zero maxTs means now.
func (c *Client) Listens(ctx context.Context, maxTs time.Time, count int) ([]Listen, error) {
	if count <= 0 || count > MaxListens {
		count = MaxListens
	}
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	if !maxTs.IsZero() {
		q.Set("max_ts", strconv.FormatInt(maxTs.Unix(), 10))
	}
	u := c.baseURL + fmt.Sprintf(listensPath, url.PathEscape(c.user)) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Add("Authorization", "Token "+c.token)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var body ListensResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode listens: %w", err)
	}

	listens := make([]Listen, 0, len(body.Payload.Listens))
	for _, p := range body.Payload.Listens {
		if p == nil || p.TrackMetadata == nil {
			continue
		}
		listens = append(listens, fromPayload(p))
	}
	return listens, nil
}

// IsPermanent reports whether a failed request will fail again unchanged.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBadRequest)
}

func checkResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Bad ListenBrainz request")
		return ErrBadRequest
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Received bad ListenBrainz response")
		return fmt.Errorf(">= 400: %d: %w", resp.StatusCode, ErrListenBrainz)
	}
	return nil
}

func toMetadata(l Listen) *TrackMetadata {
	info := &AdditionalInfo{
		Duration:         int(l.Duration.Seconds()),
		SubmissionClient: "stellar-scrobbler",
	}
	if validMBID(l.RecordingMBID) {
		info.RecordingMBID = l.RecordingMBID
	}
	if validMBID(l.ReleaseMBID) {
		info.ReleaseMBID = l.ReleaseMBID
	}
	return &TrackMetadata{
		AdditionalInfo: info,
		ArtistName:     l.Artist,
		TrackName:      l.Track,
		ReleaseName:    l.Release,
	}
}

func fromPayload(p *Payload) Listen {
	l := Listen{
		Artist:  p.TrackMetadata.ArtistName,
		Track:   p.TrackMetadata.TrackName,
		Release: p.TrackMetadata.ReleaseName,
	}
	if p.ListenedAt > 0 {
		l.ListenedAt = time.Unix(p.ListenedAt, 0).UTC()
	}
	if info := p.TrackMetadata.AdditionalInfo; info != nil {
		l.RecordingMBID = info.RecordingMBID
		l.ReleaseMBID = info.ReleaseMBID
		switch {
		case info.DurationMs > 0:
			l.Duration = time.Duration(info.DurationMs) * time.Millisecond
		case info.Duration > 0:
			l.Duration = time.Duration(info.Duration) * time.Second
		}
	}
	return l
}

func validMBID(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
