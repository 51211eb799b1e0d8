package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type Globals struct {
	Debug   bool
	Version string
}

// apiClient is a thin JSON client for the jobs API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(server string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *apiClient) post(ctx context.Context, path, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.http.Do(req)
}

// decodeOrFail decodes the body into out for 2xx responses and returns the
// server's error message otherwise.
func decodeOrFail(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type SubmitCmd struct {
	Server string            `help:"Server URL" default:"http://localhost:8080"`
	Field  map[string]string `help:"Job fields as name=value pairs" mapsep:","`
}

func (s *SubmitCmd) Run(ctx context.Context, globals *Globals) error {
	type field struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	req := struct {
		Fields []field `json:"fields"`
	}{}
	for name, value := range s.Field {
		req.Fields = append(req.Fields, field{Name: name, Value: value})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := newAPIClient(s.Server).post(ctx, "/v1/jobs", "application/json", body)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	var view map[string]string
	if err := decodeOrFail(resp, &view); err != nil {
		return err
	}

	fmt.Printf("ticket: %s\n", view["ticket"])
	return nil
}

type GetCmd struct {
	Server string `help:"Server URL" default:"http://localhost:8080"`
	Ticket string `arg:"" help:"Job ticket"`
}

func (g *GetCmd) Run(ctx context.Context, globals *Globals) error {
	resp, err := newAPIClient(g.Server).get(ctx, "/v1/jobs/"+url.PathEscape(g.Ticket))
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}

	var view map[string]string
	if err := decodeOrFail(resp, &view); err != nil {
		return err
	}

	return printJSON(view)
}

type ListCmd struct {
	Server  string `help:"Server URL" default:"http://localhost:8080"`
	Filters string `help:"Filter query, e.g. status-eq[success]" default:""`
}

func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	path := "/v1/jobs"
	if l.Filters != "" {
		path += "?filters=" + url.QueryEscape(l.Filters)
	}

	resp, err := newAPIClient(l.Server).get(ctx, path)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	var listing struct {
		Jobs []map[string]string `json:"jobs"`
	}
	if err := decodeOrFail(resp, &listing); err != nil {
		return err
	}

	for _, view := range listing.Jobs {
		fmt.Printf("%s\t%s\t%s\n", view["ticket"], view["status"], view["dateCreated"])
	}
	return nil
}

type AwaitCmd struct {
	Server     string        `help:"Server URL" default:"http://localhost:8080"`
	Ticket     string        `arg:"" help:"Job ticket"`
	AsyncAfter time.Duration `help:"How long to wait before giving up" default:"10s"`
}

func (a *AwaitCmd) Run(ctx context.Context, globals *Globals) error {
	path := fmt.Sprintf("/v1/jobs/%s/result?asyncAfter=%d",
		url.PathEscape(a.Ticket), a.AsyncAfter.Milliseconds())

	resp, err := newAPIClient(a.Server).get(ctx, path)
	if err != nil {
		return fmt.Errorf("await failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		_, err := io.Copy(os.Stdout, resp.Body)
		return err
	case http.StatusAccepted:
		return fmt.Errorf("result for %s not available yet", a.Ticket)
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}

type CompleteCmd struct {
	Server      string `help:"Server URL" default:"http://localhost:8080"`
	Ticket      string `arg:"" help:"Job ticket"`
	File        string `help:"File containing the result payload, - for stdin" default:"-"`
	ContentType string `help:"Content type of the result payload" default:"application/json"`
}

func (c *CompleteCmd) Run(ctx context.Context, globals *Globals) error {
	var (
		payload []byte
		err     error
	)
	if c.File == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(c.File)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	path := "/v1/jobs/" + url.PathEscape(c.Ticket) + "/result"
	resp, err := newAPIClient(c.Server).post(ctx, path, c.ContentType, payload)
	if err != nil {
		return fmt.Errorf("complete failed: %w", err)
	}

	if err := decodeOrFail(resp, nil); err != nil {
		return err
	}

	fmt.Printf("stored result for %s\n", c.Ticket)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
