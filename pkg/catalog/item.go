package catalog

import "strings"

// MediaItem is one remote photo or video as listed by the catalog.
type MediaItem struct {
	ID       string
	BaseURL  string
	MimeType string
	Filename string
	// CreationTime is the RFC 3339 timestamp as returned by the service, or
	// empty when the service did not report one.
	CreationTime string
	IsVideo      bool
}

type wireVideo struct {
	Status string  `json:"status,omitempty"`
	FPS    float64 `json:"fps,omitempty"`
}

type wireMediaMetadata struct {
	CreationTime string     `json:"creationTime,omitempty"`
	Width        string     `json:"width,omitempty"`
	Height       string     `json:"height,omitempty"`
	Video        *wireVideo `json:"video,omitempty"`
}

type wireMediaItem struct {
	ID            string             `json:"id"`
	ProductURL    string             `json:"productUrl,omitempty"`
	BaseURL       string             `json:"baseUrl"`
	MimeType      string             `json:"mimeType"`
	Filename      string             `json:"filename"`
	MediaMetadata *wireMediaMetadata `json:"mediaMetadata,omitempty"`
}

type searchResponse struct {
	MediaItems    []wireMediaItem `json:"mediaItems"`
	NextPageToken string          `json:"nextPageToken"`
}

func (w wireMediaItem) toItem() MediaItem {
	item := MediaItem{
		ID:       w.ID,
		BaseURL:  w.BaseURL,
		MimeType: w.MimeType,
		Filename: w.Filename,
		IsVideo:  strings.HasPrefix(strings.ToLower(w.MimeType), "video/"),
	}
	if md := w.MediaMetadata; md != nil {
		item.CreationTime = md.CreationTime
		if md.Video != nil {
			item.IsVideo = true
		}
	}
	return item
}
