package api

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

	"github.com/oapi-codegen/runtime"
)

// APIError surfaces non-2xx responses from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Entry is a decoded versioned string.
type Entry struct {
	Key     []byte
	Value   []byte
	Version uint64
	Flags   uint32
}

type PutOptions struct {
	// Version, when non-nil, must match the stored version.
	Version *int64
	Flags   *uint32
	TTL     time.Duration
}

// Put writes a key and returns it with its new version.
func (c *Client) Put(ctx context.Context, key, value []byte, opts PutOptions) (Entry, error) {
	body := PutKeyJSONRequestBody{Value: base64.StdEncoding.EncodeToString(value)}
	if opts.Flags != nil {
		f := int64(*opts.Flags)
		body.Flags = &f
	}
	if opts.TTL > 0 {
		ms := opts.TTL.Milliseconds()
		body.TTLMs = &ms
	}
	path, err := keyPath(key, opts.Version)
	if err != nil {
		return Entry{}, err
	}
	var out KeyValue
	if err := c.do(ctx, http.MethodPut, path, body, http.StatusOK, &out); err != nil {
		return Entry{}, err
	}
	return decodeWireKeyValue(out)
}

// Get retrieves a key; returns ErrNotFound on 404.
func (c *Client) Get(ctx context.Context, key []byte) (Entry, error) {
	path, err := keyPath(key, nil)
	if err != nil {
		return Entry{}, err
	}
	var out KeyValue
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return Entry{}, err
	}
	return decodeWireKeyValue(out)
}

// Delete removes a key. With a version it only deletes when the stored
// version matches, and reports ErrConflict otherwise.
func (c *Client) Delete(ctx context.Context, key []byte, version *int64) error {
	path, err := keyPath(key, version)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, http.StatusNoContent, nil)
}

// Command runs an arbitrary command and returns its rendered reply.
func (c *Client) Command(ctx context.Context, args ...string) (any, error) {
	var out CommandResponse
	if err := c.do(ctx, http.MethodPost, "/v1/commands", CommandRequest{Args: args}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Reply, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %d response: %w", resp.StatusCode, err)
	}
	return nil
}

// keyPath serializes the key and version parameters the same way the
// routes bind them: simple style for {key}, form style for ?version.
func keyPath(key []byte, version *int64) (string, error) {
	pathParam, err := runtime.StyleParamWithLocation("simple", false, "key", runtime.ParamLocationPath,
		base64.RawURLEncoding.EncodeToString(key))
	if err != nil {
		return "", err
	}
	queryURL, err := url.Parse("/v1/keys/" + pathParam)
	if err != nil {
		return "", err
	}
	if version != nil {
		queryFrag, err := runtime.StyleParamWithLocation("form", true, "version", runtime.ParamLocationQuery, *version)
		if err != nil {
			return "", err
		}
		parsed, err := url.ParseQuery(queryFrag)
		if err != nil {
			return "", err
		}
		queryValues := queryURL.Query()
		for k, v := range parsed {
			for _, v2 := range v {
				queryValues.Add(k, v2)
			}
		}
		queryURL.RawQuery = queryValues.Encode()
	}
	return queryURL.String(), nil
}

func decodeWireKeyValue(w KeyValue) (Entry, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(w.Key)
	if err != nil {
		return Entry{}, err
	}
	valBytes, err := base64.StdEncoding.DecodeString(w.Value)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Key: keyBytes, Value: valBytes, Version: uint64(w.Version)}
	if w.Flags != nil {
		e.Flags = uint32(*w.Flags)
	}
	return e, nil
}

func newAPIError(status int, body []byte) error {
	return &APIError{
		StatusCode: status,
		Body:       string(body),
	}
}
