package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/flow"
)

// parseRequest is the wire shape of a free-text parse call.
type parseRequest struct {
	Text string `json:"text"`
}

// parseResponse is the engine's reply: either a structured draft or a
// parse failure naming what could not be determined.
type parseResponse struct {
	Draft         *alert.Draft `json:"draft,omitempty"`
	Error         string       `json:"error,omitempty"`
	MissingFields []string     `json:"missing_fields,omitempty"`
}

// Parse sends free text to the engine's language-understanding endpoint
// and returns a structured draft. Unparseable input comes back as a
// *flow.ParseError so the workflow can re-prompt with the missing fields.
func (c *Client) Parse(ctx context.Context, text string) (*alert.Draft, error) {
	body, err := json.Marshal(parseRequest{Text: text})
	if err != nil {
		return nil, errors.Wrap(err, "marshal parse request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build parse request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.Wrapf(errors.ErrServiceUnavailable, "parse endpoint returned %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read parse response")
	}

	var parsed parseResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode parse response")
	}

	// 422 is the engine's "understood the request, not the text" answer.
	if resp.StatusCode == http.StatusUnprocessableEntity || parsed.Draft == nil {
		message := parsed.Error
		if message == "" {
			message = "could not understand the search description"
		}
		return nil, &flow.ParseError{Message: message, MissingFields: parsed.MissingFields}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("parse endpoint returned %d", resp.StatusCode)
	}

	return parsed.Draft, nil
}
