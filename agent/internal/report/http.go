package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adlens/adlens/agent/internal/config"
)

// maxResponseBytes caps a single report page.
const maxResponseBytes = 64 << 20

type httpSource struct {
	src    config.Source
	client *http.Client
}

// pageEnvelope is the object form of a report page; a bare JSON array of
// row objects is accepted too.
type pageEnvelope struct {
	Rows []map[string]any `json:"rows"`
}

// Fetch GETs the report endpoint with the AWQL text in q and the page in
// offset/limit.
func (s *httpSource) Fetch(ctx context.Context, q Query, p Page) (Batch, error) {
	u, err := url.Parse(s.src.Endpoint)
	if err != nil {
		return Batch{}, fmt.Errorf("http %q: parse endpoint: %w", s.src.ID, err)
	}
	params := u.Query()
	params.Set("q", q.String())
	params.Set("offset", strconv.Itoa(p.Offset))
	params.Set("limit", strconv.Itoa(p.Limit))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Batch{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Batch{}, fmt.Errorf("read body: %w", err)
	}
	objs, err := decodeRows(body)
	if err != nil {
		return Batch{}, fmt.Errorf("http %q: %w", s.src.ID, err)
	}

	b := Batch{Read: len(objs)}
	for i, obj := range objs {
		row, err := ParseMap(stringify(obj))
		if err != nil {
			skipRow(s.src.ID, p.Offset+i, err)
			b.Skipped++
			continue
		}
		b.Rows = append(b.Rows, row)
	}
	return b, nil
}

func decodeRows(body []byte) ([]map[string]any, error) {
	body = bytes.TrimSpace(body)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if len(body) > 0 && body[0] == '[' {
		var rows []map[string]any
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
		return rows, nil
	}
	var env pageEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return env.Rows, nil
}

// stringify renders JSON values the way a CSV export would: arrays stay
// JSON (labels, final URLs), null becomes "".
func stringify(obj map[string]any) map[string]string {
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch x := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = x
		case json.Number:
			out[k] = x.String()
		case bool:
			out[k] = strconv.FormatBool(x)
		default:
			raw, _ := json.Marshal(x)
			out[k] = string(raw)
		}
	}
	return out
}
