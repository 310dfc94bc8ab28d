package xkcd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxMetadataBytes = 1 << 20

// ComicStatus reports how a lookup ended.
type ComicStatus int

const (
	// ComicFound means metadata was fetched.
	ComicFound ComicStatus = iota
	// ComicMissing means the site answered 404.
	ComicMissing
	// ComicUnavailable means the site answered with another failure.
	ComicUnavailable
)

// Comic is the metadata of one comic, or the reason it has none.
type Comic struct {
	Number     int
	Status     ComicStatus
	Title      string
	Alt        string
	Image      string
	Transcript string
	Published  time.Time
}

type comicPayload struct {
	Num        int    `json:"num"`
	Day        string `json:"day"`
	Month      string `json:"month"`
	Year       string `json:"year"`
	Title      string `json:"title"`
	SafeTitle  string `json:"safe_title"`
	Alt        string `json:"alt"`
	Img        string `json:"img"`
	Transcript string `json:"transcript"`
}

type comicFetcher struct {
	client  *http.Client
	baseURL string
}

// fetch loads one comic. HTTP failures become a Comic with a failure status
// so they are cached like successes; transport failures are returned.
func (f comicFetcher) fetch(ctx context.Context, number int) (Comic, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, f.metadataURL(number), nil)
	if err != nil {
		return Comic{}, fmt.Errorf("build xkcd request %d: %w", number, err)
	}
	response, err := f.client.Do(request)
	if err != nil {
		return Comic{}, fmt.Errorf("fetch xkcd %d: %w", number, err)
	}
	defer func() { _ = response.Body.Close() }()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return Comic{Number: number, Status: ComicMissing}, nil
	case response.StatusCode < 200 || response.StatusCode > 299:
		return Comic{Number: number, Status: ComicUnavailable}, nil
	}

	var payload comicPayload
	if err := json.NewDecoder(io.LimitReader(response.Body, maxMetadataBytes)).Decode(&payload); err != nil {
		return Comic{}, fmt.Errorf("decode xkcd %d: %w", number, err)
	}

	return Comic{
		Number:     number,
		Status:     ComicFound,
		Title:      firstNonEmpty(payload.Title, payload.SafeTitle),
		Alt:        payload.Alt,
		Image:      payload.Img,
		Transcript: strings.TrimSpace(payload.Transcript),
		Published:  publishedAt(payload),
	}, nil
}

func (f comicFetcher) metadataURL(number int) string {
	return f.comicURL(number) + "info.0.json"
}

func (f comicFetcher) comicURL(number int) string {
	return f.baseURL + "/" + strconv.Itoa(number) + "/"
}

func publishedAt(payload comicPayload) time.Time {
	year, errYear := strconv.Atoi(payload.Year)
	month, errMonth := strconv.Atoi(payload.Month)
	day, errDay := strconv.Atoi(payload.Day)
	if errYear != nil || errMonth != nil || errDay != nil {
		return time.Time{}
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}

	return ""
}
