package drive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// TransportError is a non-2xx answer from the drive.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not a
// TransportError.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// StaticToken returns a token source for a caller-supplied access token.
func StaticToken(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}

// Client communicates with the Graph drive API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	stats      *Stats
}

// NewClient returns a client that authenticates every request with tokens
// from ts. stats may be nil.
func NewClient(baseURL string, ts oauth2.TokenSource, stats *Stats, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		},
		stats: stats,
	}
}

// driveItem is the subset of the Graph driveItem resource we read.
type driveItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ParentReference struct {
		DriveID string `json:"driveId"`
	} `json:"parentReference"`
	File   *struct{} `json:"file"`
	Folder *struct{} `json:"folder"`
}

func (d driveItem) item(fallbackDrive string) Item {
	ref := ItemRef{DriveID: d.ParentReference.DriveID, ID: d.ID}
	if ref.DriveID == "" {
		ref.DriveID = fallbackDrive
	}
	switch {
	case d.Folder != nil:
		ref.Kind = KindFolder
	case d.File != nil:
		ref.Kind = KindFile
	}
	return Item{Name: d.Name, Ref: ref}
}

func (c *Client) itemURL(ref ItemRef, suffix string) string {
	return c.baseURL + "/drives/" + url.PathEscape(ref.DriveID) + "/items/" + url.PathEscape(ref.ID) + suffix
}

// ListChildren returns the children of a folder, following pagination.
func (c *Client) ListChildren(ctx context.Context, ref ItemRef) ([]Item, error) {
	var items []Item
	next := c.itemURL(ref, "/children")
	for next != "" {
		var page struct {
			Value    []driveItem `json:"value"`
			NextLink string      `json:"@odata.nextLink"`
		}
		if err := c.getJSON(ctx, "list children "+ref.Path(), next, &page); err != nil {
			return nil, err
		}
		for _, d := range page.Value {
			items = append(items, d.item(ref.DriveID))
		}
		next = page.NextLink
	}
	return items, nil
}

// Download returns the content of a file.
func (c *Client) Download(ctx context.Context, ref ItemRef) ([]byte, error) {
	op := "download " + ref.Path()
	resp, err := c.do(ctx, op, http.MethodGet, c.itemURL(ref, "/content"), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	return data, nil
}

// Upload replaces the content of a file.
func (c *Client) Upload(ctx context.Context, ref ItemRef, content []byte) error {
	op := "upload " + ref.Path()
	resp, err := c.do(ctx, op, http.MethodPut, c.itemURL(ref, "/content"), content, "text/plain")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ResolveShareLink turns a sharing URL into the item it points at.
func (c *Client) ResolveShareLink(ctx context.Context, link string) (Item, error) {
	token := "u!" + base64.RawURLEncoding.EncodeToString([]byte(link))
	var d driveItem
	if err := c.getJSON(ctx, "resolve share link", c.baseURL+"/shares/"+token+"/driveItem", &d); err != nil {
		return Item{}, err
	}
	return d.item(""), nil
}

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	if err := c.getJSON(ctx, "me", c.baseURL+"/me", &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) getJSON(ctx context.Context, op, u string, v any) error {
	resp, err := c.do(ctx, op, http.MethodGet, u, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// do sends a request and returns the response when it is 2xx. Any other
// status is turned into a TransportError.
func (c *Client) do(ctx context.Context, op, method, u string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	failed := err != nil || resp.StatusCode/100 != 2
	c.stats.Record(opName(op), time.Since(start), failed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	return resp, nil
}

// opName strips the item path from op so stats group by operation.
func opName(op string) string {
	if i := strings.Index(op, " /"); i >= 0 {
		return op[:i]
	}
	return op
}

// errorMessage pulls error.message out of a Graph error body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var ge struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		if ge.Error.Code != "" {
			return ge.Error.Code + ": " + ge.Error.Message
		}
		return ge.Error.Message
	}
	return strings.TrimSpace(string(body))
}
