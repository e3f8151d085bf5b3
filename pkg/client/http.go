package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

// StatusError is a non-2xx answer from the request/response API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// API calls the request/response endpoints of a server at BaseURL.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &API{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

type SessionSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserCount int    `json:"userCount"`
	ItemCount int    `json:"itemCount"`
}

// CreateSession returns the new session id and the host's user id.
func (a *API) CreateSession(ctx context.Context, name, hostName string) (sessionID, hostID string, err error) {
	var out struct {
		SessionID string `json:"sessionId"`
		HostID    string `json:"hostId"`
	}
	in := map[string]string{"name": name, "hostName": hostName}
	if err := a.do(ctx, http.MethodPost, "/api/sessions", in, &out); err != nil {
		return "", "", err
	}
	return out.SessionID, out.HostID, nil
}

func (a *API) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	err := a.do(ctx, http.MethodGet, "/api/sessions", nil, &out)
	return out, err
}

// FetchSession returns the session snapshot. Votes of unrevealed items are
// listed with hidden values.
func (a *API) FetchSession(ctx context.Context, sessionID string) (protocol.Session, error) {
	path := "/api/sessions/" + url.PathEscape(sessionID)
	var out protocol.Session
	err := a.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (a *API) AddItem(ctx context.Context, sessionID, userID, title, description string) (protocol.Item, error) {
	in := map[string]string{"userId": userID, "title": title, "description": description}
	var out protocol.Item
	err := a.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/items", in, &out)
	return out, err
}

func (a *API) SetCurrentItem(ctx context.Context, sessionID, userID, itemID string) error {
	in := map[string]string{"userId": userID, "itemId": itemID}
	return a.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/current-item", in, nil)
}

// ChannelURL is the websocket address of a session.
func (a *API) ChannelURL(sessionID string) string {
	base := a.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/" + url.PathEscape(sessionID)
}

// Join dials the session channel with the API's HTTP client.
func (a *API) Join(ctx context.Context, sessionID string, id protocol.Identify, opts Options) (*Conn, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = a.HTTP
	}
	return Dial(ctx, a.ChannelURL(sessionID), id, opts)
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
