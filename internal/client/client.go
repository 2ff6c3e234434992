// Package client implements remote.API against a `surveyor serve` instance.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"surveyor/internal/model"
	"surveyor/internal/remote"
	"surveyor/internal/store"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ remote.API = (*Client)(nil)

// New returns a client for baseURL. A nil httpClient uses a client with a
// 30s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    httpClient,
	}
}

// Header carries the bearer token for other connections to the same
// server, such as the websocket relay.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) ListSurveys(ctx context.Context) ([]model.Survey, error) {
	var out []model.Survey
	err := c.do(ctx, http.MethodGet, "/api/surveys", nil, &out)
	return out, err
}

func (c *Client) GetSurvey(ctx context.Context, id model.ID) (model.Survey, error) {
	var out model.Survey
	err := c.do(ctx, http.MethodGet, "/api/surveys/"+id.String(), nil, &out)
	return out, err
}

func (c *Client) CreateSurvey(ctx context.Context, f remote.Fields) (model.Survey, error) {
	var out model.Survey
	err := c.do(ctx, http.MethodPost, "/api/surveys", f, &out)
	return out, err
}

func (c *Client) UpdateSurvey(ctx context.Context, id model.ID, f remote.Fields) (model.Survey, error) {
	var out model.Survey
	err := c.do(ctx, http.MethodPatch, "/api/surveys/"+id.String(), f, &out)
	return out, err
}

func (c *Client) ReadEvents(ctx context.Context, surveyID model.ID, limit int) ([]store.Event, error) {
	var out []store.Event
	path := "/api/events"
	if surveyID != 0 {
		path = "/api/surveys/" + surveyID.String() + "/events"
	}
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Preview returns the questions a respondent sees given answers written as
// "<questionId>=<optionId>[,...]".
func (c *Client) Preview(ctx context.Context, surveyID model.ID, answers []string) ([]json.RawMessage, error) {
	q := url.Values{"format": {"json"}}
	for _, a := range answers {
		q.Add("answer", a)
	}
	var out []json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/surveys/"+surveyID.String()+"/preview?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) CreateGroup(ctx context.Context, surveyID model.ID, f remote.Fields) (model.Group, error) {
	var out model.Group
	err := c.do(ctx, http.MethodPost, "/api/surveys/"+surveyID.String()+"/groups", f, &out)
	return out, err
}

func (c *Client) UpdateGroup(ctx context.Context, id model.ID, f remote.Fields) (model.Group, error) {
	var out model.Group
	err := c.do(ctx, http.MethodPatch, "/api/groups/"+id.String(), f, &out)
	return out, err
}

func (c *Client) DeleteGroup(ctx context.Context, id model.ID) error {
	return c.do(ctx, http.MethodDelete, "/api/groups/"+id.String(), nil, nil)
}

func (c *Client) CreateQuestion(ctx context.Context, groupID model.ID, f remote.Fields) (model.Question, error) {
	var out model.Question
	err := c.do(ctx, http.MethodPost, "/api/groups/"+groupID.String()+"/questions", f, &out)
	return out, err
}

func (c *Client) UpdateQuestion(ctx context.Context, id model.ID, f remote.Fields) (model.Question, error) {
	var out model.Question
	err := c.do(ctx, http.MethodPatch, "/api/questions/"+id.String(), f, &out)
	return out, err
}

func (c *Client) DeleteQuestion(ctx context.Context, id model.ID) error {
	return c.do(ctx, http.MethodDelete, "/api/questions/"+id.String(), nil, nil)
}

func (c *Client) CreateOption(ctx context.Context, questionID model.ID, f remote.Fields) (model.Option, error) {
	var out model.Option
	err := c.do(ctx, http.MethodPost, "/api/questions/"+questionID.String()+"/options", f, &out)
	return out, err
}

func (c *Client) UpdateOption(ctx context.Context, id model.ID, f remote.Fields) (model.Option, error) {
	var out model.Option
	err := c.do(ctx, http.MethodPatch, "/api/options/"+id.String(), f, &out)
	return out, err
}

func (c *Client) DeleteOption(ctx context.Context, id model.ID) error {
	return c.do(ctx, http.MethodDelete, "/api/options/"+id.String(), nil, nil)
}

func (c *Client) UpdateSettings(ctx context.Context, questionID model.ID, qs model.QuestionSettings) (model.QuestionSettings, error) {
	var out model.QuestionSettings
	err := c.do(ctx, http.MethodPut, "/api/questions/"+questionID.String()+"/settings", qs, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return remote.NewInvalidError(fmt.Sprintf("encode request: %v", err))
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return remote.NewInvalidError(err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return remote.NewUnavailableError(fmt.Sprintf("%s %s: %v", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return remote.NewUnavailableError(fmt.Sprintf("%s %s: decode response: %v", method, path, err))
	}
	return nil
}

// decodeError prefers the server's classified body and falls back to the
// status code.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var re remote.Error
	if err := json.Unmarshal(raw, &re); err == nil && re.Code != "" {
		if resp.StatusCode == http.StatusUnauthorized {
			re.Code = remote.CodeForbidden
		}
		return &re
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return &remote.Error{Code: codeForStatus(resp.StatusCode), Message: msg}
}

func codeForStatus(status int) remote.Code {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return remote.CodeInvalid
	case http.StatusNotFound:
		return remote.CodeNotFound
	case http.StatusConflict:
		return remote.CodeConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return remote.CodeForbidden
	default:
		return remote.CodeUnavailable
	}
}
