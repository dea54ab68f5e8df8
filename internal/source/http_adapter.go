package source

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

	"price-aggregator/internal/models"
)

// maxResponseBytes caps one search response body.
const maxResponseBytes = 8 << 20

// HTTPJSONAdapter reads listings from a JSON search endpoint:
//
//	GET {base}/search?location=...&query=...
//	  -> either {"listings":[...]} or [...]
type HTTPJSONAdapter struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

type HTTPJSONAdapterOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func NewHTTPJSONAdapter(opts HTTPJSONAdapterOptions) (*HTTPJSONAdapter, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	to := opts.Timeout
	if to <= 0 {
		to = 30 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "price-aggregator/1.0"
	}
	return &HTTPJSONAdapter{
		baseURL:   strings.TrimRight(base, "/"),
		client:    &http.Client{Timeout: to},
		userAgent: ua,
	}, nil
}

func (a *HTTPJSONAdapter) Fetch(ctx context.Context, location, query string) ([]models.RawListing, error) {
	u, err := url.Parse(a.baseURL + "/search")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("location", strings.TrimSpace(location))
	q.Set("query", strings.TrimSpace(query))
	u.RawQuery = q.Encode()

	body, err := a.doGET(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return DecodeListings(body)
}

func (a *HTTPJSONAdapter) doGET(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(b) > maxResponseBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}
	return b, nil
}

// wireListing accepts the field names storefront scrapers emit.
type wireListing struct {
	Title    string          `json:"title"`
	Name     string          `json:"name"`
	Price    json.RawMessage `json:"price"`
	Qty      string          `json:"qty"`
	Quantity string          `json:"quantity"`
	Image    string          `json:"image"`
	URL      string          `json:"url"`
	Pincode  string          `json:"pincode"`
	Location string          `json:"location"`
	Pos      int             `json:"pos"`
}

// DecodeListings parses an object-wrapped or bare-array listing payload. A bare single listing
// object is treated as a one-element array.
func DecodeListings(raw []byte) ([]models.RawListing, error) {
	var wrapped struct {
		Listings []wireListing `json:"listings"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Listings != nil {
		return toRaw(wrapped.Listings), nil
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var one wireListing
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("listing payload parse: %w", err)
		}
		if firstNonEmpty(one.Title, one.Name) == "" {
			return nil, errors.New("listing payload has neither listings nor a title")
		}
		return toRaw([]wireListing{one}), nil
	}
	var arr []wireListing
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("listing payload parse: %w", err)
	}
	return toRaw(arr), nil
}

func toRaw(in []wireListing) []models.RawListing {
	out := make([]models.RawListing, 0, len(in))
	for _, w := range in {
		out = append(out, models.RawListing{
			Title:        strings.TrimSpace(firstNonEmpty(w.Title, w.Name)),
			PriceText:    priceText(w.Price),
			QuantityText: strings.TrimSpace(firstNonEmpty(w.Qty, w.Quantity)),
			ImageURL:     strings.TrimSpace(w.Image),
			DetailURL:    strings.TrimSpace(w.URL),
			LocationEcho: strings.TrimSpace(firstNonEmpty(w.Pincode, w.Location)),
			Position:     w.Pos,
		})
	}
	return out
}

// priceText keeps string prices verbatim and renders numeric ones as text.
func priceText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
