package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const DefaultBaseURL = "https://api.gfycat.com/v1"

// HTTPClient talks to a gfycat-style conversion API over JSON.
type HTTPClient struct {
	baseURL   string
	token     string
	userAgent string
	client    *http.Client
}

type HTTPConfig struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
}

func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:   config.BaseURL,
		token:     config.Token,
		userAgent: config.UserAgent,
		client:    &http.Client{Timeout: config.Timeout},
	}
}

var _ Uploader = &HTTPClient{}

func (c *HTTPClient) Upload(ctx context.Context, req UploadRequest) (string, error) {
	nsfw := "0"
	if req.NSFW {
		nsfw = "1"
	}
	body := map[string]string{
		"fetchUrl": req.FetchURL,
		"title":    req.Title,
		"nsfw":     nsfw,
	}
	var res struct {
		Name string `json:"gfyname"`
	}
	if err := c.do(ctx, http.MethodPost, "/gfycats", body, &res); err != nil {
		return "", err
	}
	if res.Name == "" {
		return "", fmt.Errorf("conversion service returned no job name")
	}
	return res.Name, nil
}

func (c *HTTPClient) Status(ctx context.Context, name string) (*JobStatus, error) {
	var res struct {
		Task         string `json:"task"`
		ErrorMessage struct {
			Description string `json:"description"`
		} `json:"errorMessage"`
	}
	if err := c.do(ctx, http.MethodGet, "/gfycats/fetch/status/"+name, nil, &res); err != nil {
		return nil, err
	}
	return &JobStatus{Task: res.Task, ErrorMessage: res.ErrorMessage.Description}, nil
}

func (c *HTTPClient) Details(ctx context.Context, name string) (*AssetDetails, error) {
	var res struct {
		GfyItem struct {
			GifSize  int64 `json:"gifSize"`
			Mp4Size  int64 `json:"mp4Size"`
			WebmSize int64 `json:"webmSize"`
		} `json:"gfyItem"`
	}
	if err := c.do(ctx, http.MethodGet, "/gfycats/"+name, nil, &res); err != nil {
		return nil, err
	}
	return &AssetDetails{
		GifSize:  sizeOrUnknown(res.GfyItem.GifSize),
		Mp4Size:  sizeOrUnknown(res.GfyItem.Mp4Size),
		WebmSize: sizeOrUnknown(res.GfyItem.WebmSize),
	}, nil
}

// sizeOrUnknown maps the service's "no data" zero to the explicit unknown
// sentinel. Immediately after an upload some sizes are not populated yet.
func sizeOrUnknown(size int64) int64 {
	if size <= 0 {
		return -1
	}
	return size
}

func (c *HTTPClient) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("conversion service request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("conversion service returned %s for %s %s", res.Status, method, path)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding conversion service response: %w", err)
		}
	}
	return nil
}
