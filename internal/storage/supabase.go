package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// SupabaseStore talks to the Supabase Storage REST API with the service role key.
type SupabaseStore struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
}

// StatusError is a non-2xx answer from the storage API.
type StatusError struct {
	Op     string
	Key    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supabase storage %s %s (status %d): %s", e.Op, e.Key, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type supabaseListRequest struct {
	Prefix string         `json:"prefix"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	SortBy supabaseSortBy `json:"sortBy"`
}

type supabaseSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type supabaseListEntry struct {
	Name     string  `json:"name"`
	ID       *string `json:"id"`
	Metadata struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

// NewSupabaseStore creates a Supabase Storage client. A nil client uses a
// client with a 60s timeout.
func NewSupabaseStore(projectURL, serviceKey, bucket string, client *http.Client) *SupabaseStore {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &SupabaseStore{
		baseURL: strings.TrimRight(projectURL, "/") + "/storage/v1",
		key:     serviceKey,
		bucket:  bucket,
		client:  client,
	}
}

func (s *SupabaseStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	s.authorize(req)

	_, err = s.do(req, "upload", key)
	return err
}

func (s *SupabaseStore) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix = strings.Trim(prefix, "/")
	var out []Object
	for offset := 0; ; offset += ListPageSize {
		payload, err := json.Marshal(supabaseListRequest{
			Prefix: prefix,
			Limit:  ListPageSize,
			Offset: offset,
			SortBy: supabaseSortBy{Column: "name", Order: "asc"},
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.baseURL+"/object/list/"+url.PathEscape(s.bucket), bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		s.authorize(req)

		body, err := s.do(req, "list", prefix)
		if err != nil {
			return nil, err
		}
		var entries []supabaseListEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("decode list response: %w", err)
		}
		for _, e := range entries {
			// Folder placeholders come back without an id.
			if e.ID == nil {
				continue
			}
			out = append(out, Object{Name: e.Name, Size: e.Metadata.Size})
		}
		if len(entries) < ListPageSize {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if out == nil {
		out = []Object{}
	}
	return out, nil
}

func (s *SupabaseStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase storage download: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Op: "download", Key: key, Status: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}

func (s *SupabaseStore) Bucket() string { return s.bucket }
func (s *SupabaseStore) Type() string   { return "supabase" }

func (s *SupabaseStore) objectURL(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/object/" + url.PathEscape(s.bucket) + "/" + strings.Join(parts, "/")
}

func (s *SupabaseStore) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
}

func (s *SupabaseStore) do(req *http.Request, op, key string) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase storage %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Op: op, Key: key, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
