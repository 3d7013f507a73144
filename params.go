package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// maxRequestBodySize bounds form and JSON bodies
const maxRequestBodySize = 1 << 20

// requestParams holds the parameters of a request by source. Endpoints
// differ in which source wins when a name appears more than once.
type requestParams struct {
	query url.Values
	form  url.Values
	json  url.Values
}

// parseParams reads the query string and, for requests with a body, either a
// urlencoded form or a JSON object. JSON values that are not strings are
// rendered with fmt.
func parseParams(w http.ResponseWriter, r *http.Request) (*requestParams, error) {
	p := &requestParams{
		query: r.URL.Query(),
		form:  url.Values{},
		json:  url.Values{},
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return p, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		for k, v := range body {
			switch val := v.(type) {
			case string:
				p.json.Set(k, val)
			case nil:
			default:
				p.json.Set(k, fmt.Sprint(val))
			}
		}
	case "application/x-www-form-urlencoded", "":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		p.form = r.PostForm
	}
	return p, nil
}

// bodyFirst looks name up in the form, then JSON, then the query string
func (p *requestParams) bodyFirst(name string) string {
	return firstOf(name, p.form, p.json, p.query)
}

// queryFirst looks name up in the query string, then the form, then JSON
func (p *requestParams) queryFirst(name string) string {
	return firstOf(name, p.query, p.form, p.json)
}

func firstOf(name string, sources ...url.Values) string {
	for _, src := range sources {
		if v := src.Get(name); v != "" {
			return v
		}
	}
	return ""
}
