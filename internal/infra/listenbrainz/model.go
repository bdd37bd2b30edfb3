package listenbrainz

// https://listenbrainz.readthedocs.io/en/latest/users/json.html

type (
	Payload struct {
		ListenedAt    int64          `json:"listened_at,omitempty"`
		TrackMetadata *TrackMetadata `json:"track_metadata"`
	}

	AdditionalInfo struct {
		TrackMBID        string `json:"track_mbid,omitempty"`
		RecordingMBID    string `json:"recording_mbid,omitempty"`
		ReleaseMBID      string `json:"release_mbid,omitempty"`
		Duration         int    `json:"duration,omitempty"`
		DurationMs       int    `json:"duration_ms,omitempty"`
		SubmissionClient string `json:"submission_client,omitempty"`
	}

	TrackMetadata struct {
		AdditionalInfo *AdditionalInfo `json:"additional_info,omitempty"`
		ArtistName     string          `json:"artist_name,omitempty"`
		TrackName      string          `json:"track_name,omitempty"`
		ReleaseName    string          `json:"release_name,omitempty"`
	}

	Submission struct {
		ListenType string     `json:"listen_type,omitempty"`
		Payload    []*Payload `json:"payload"`
	}

	ListensResponse struct {
		Payload struct {
			Count   int        `json:"count"`
			Listens []*Payload `json:"listens"`
		} `json:"payload"`
	}
)
