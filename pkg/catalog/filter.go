package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-photosync/pkg/util"
)

// MediaType restricts a search to photos, videos, or both.
type MediaType int

const (
	AllMedia MediaType = iota
	Photo
	Video
)

var mediaTypeToString = map[MediaType]string{
	AllMedia: "ALL_MEDIA",
	Photo:    "PHOTO",
	Video:    "VIDEO",
}

var stringToMediaType map[string]MediaType

func init() {
	stringToMediaType = util.InvertMap(mediaTypeToString)
}

func (m MediaType) String() string {
	if s, ok := mediaTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("unknown_media_type(%d)", m)
}

// ParseMediaType converts a string like "photo" or "ALL_MEDIA" into a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	if m, ok := stringToMediaType[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("invalid media type: %q. Must be 'PHOTO', 'VIDEO', or 'ALL_MEDIA'", s)
}

func (m MediaType) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MediaType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("media type should be a string, got %s", data)
	}
	mt, err := ParseMediaType(s)
	if err != nil {
		return err
	}
	*m = mt
	return nil
}

// DateLayout is the accepted form of filter dates.
const DateLayout = "2006-01-02"

// Date is a calendar day as understood by the date filter.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// Filter narrows a catalog search. A nil date range means no date filter.
type Filter struct {
	MediaType MediaType
	StartDate *Date
	EndDate   *Date
}

// NewFilter builds a Filter from raw option strings. Both dates must be
// given or both left empty.
func NewFilter(mediaType, startDate, endDate string) (Filter, error) {
	f := Filter{}
	if mediaType != "" {
		mt, err := ParseMediaType(mediaType)
		if err != nil {
			return Filter{}, err
		}
		f.MediaType = mt
	}

	switch {
	case startDate == "" && endDate == "":
		return f, nil
	case startDate == "" || endDate == "":
		return Filter{}, fmt.Errorf("a date range needs both a start and an end date")
	}

	start, err := ParseDate(startDate)
	if err != nil {
		return Filter{}, err
	}
	end, err := ParseDate(endDate)
	if err != nil {
		return Filter{}, err
	}
	if end.Before(start) {
		return Filter{}, fmt.Errorf("start date %s is after end date %s", start, end)
	}
	f.StartDate, f.EndDate = &start, &end
	return f, nil
}

type mediaTypeFilter struct {
	MediaTypes []string `json:"mediaTypes"`
}

type dateRange struct {
	StartDate Date `json:"startDate"`
	EndDate   Date `json:"endDate"`
}

type dateFilter struct {
	Ranges []dateRange `json:"ranges"`
}

type searchFilters struct {
	MediaTypeFilter mediaTypeFilter `json:"mediaTypeFilter"`
	DateFilter      *dateFilter     `json:"dateFilter,omitempty"`
}

type searchRequest struct {
	PageSize  int           `json:"pageSize"`
	PageToken string        `json:"pageToken,omitempty"`
	Filters   searchFilters `json:"filters"`
}

func (f Filter) request(pageToken string) searchRequest {
	req := searchRequest{
		PageSize:  PageSize,
		PageToken: pageToken,
		Filters: searchFilters{
			MediaTypeFilter: mediaTypeFilter{MediaTypes: []string{f.MediaType.String()}},
		},
	}
	if f.StartDate != nil && f.EndDate != nil {
		req.Filters.DateFilter = &dateFilter{Ranges: []dateRange{{StartDate: *f.StartDate, EndDate: *f.EndDate}}}
	}
	return req
}
