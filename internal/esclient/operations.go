package esclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Exists reports whether index exists, via HEAD /{index}.
func (c *Client) Exists(ctx context.Context, index string) (bool, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: checking index %q: %v", ErrMappingFailed, index, err)
	}
	defer res.Body.Close()

	return res.StatusCode == 200, nil
}

// Delete removes index. Deleting a missing index is not an error.
func (c *Client) Delete(ctx context.Context, index string) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := c.es.Indices.Delete([]string{index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: deleting index %q: %v", ErrMappingFailed, index, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("%w: deleting index %q: %s", ErrMappingFailed, index, res.String())
	}
	return nil
}

// GetMapping returns the live schema document for index, or nil if the
// index does not exist.
func (c *Client) GetMapping(ctx context.Context, index string) (json.RawMessage, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := c.es.Indices.Get([]string{index}, c.es.Indices.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: getting mapping for %q: %v", ErrMappingFailed, index, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: getting mapping for %q: %s", ErrMappingFailed, index, res.String())
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding mapping for %q: %v", ErrMappingFailed, index, err)
	}
	raw, ok := body[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %q missing from GET response", ErrMappingFailed, index)
	}
	return raw, nil
}

// PutMapping creates index with the given schema (settings + mappings).
func (c *Client) PutMapping(ctx context.Context, index string, schema json.RawMessage) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := c.es.Indices.Create(
		index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(schema)),
	)
	if err != nil {
		return fmt.Errorf("%w: creating index %q: %v", ErrMappingFailed, index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: creating index %q: %s", ErrMappingFailed, index, res.String())
	}
	return nil
}

// Bulk posts an NDJSON bulk body (as built by BuildBulkActions, possibly
// concatenated across several documents) to POST /_bulk. body must
// already end with a trailing newline.
func (c *Client) Bulk(ctx context.Context, body []byte) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBulkFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: %s", ErrBulkFailed, res.String())
	}

	var decoded struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: decoding bulk response: %v", ErrBulkFailed, err)
	}
	if decoded.Errors {
		var reasons []string
		for _, item := range decoded.Items {
			for _, action := range item {
				if action.Error != nil {
					reasons = append(reasons, fmt.Sprintf("%s: %s", action.Error.Type, action.Error.Reason))
				}
			}
		}
		return fmt.Errorf("%w: %s", ErrBulkFailed, strings.Join(reasons, "; "))
	}
	return nil
}

// Empty removes every document from index via
// POST /{index}/_delete_by_query with a match-all query. The
// backfiller does not call it; it is used by tests.
func (c *Client) Empty(ctx context.Context, index string) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	body := strings.NewReader(`{"query":{"match_all":{}}}`)
	res, err := c.es.DeleteByQuery(
		[]string{index},
		body,
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("%w: emptying index %q: %v", ErrMappingFailed, index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: emptying index %q: %s", ErrMappingFailed, index, res.String())
	}
	return nil
}

// Count returns the document count for index, via GET /{index}/_count.
// Used by tests exercising the backfill/live-sync scenarios in §8.
func (c *Client) Count(ctx context.Context, index string) (int64, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	res, err := c.es.Count(c.es.Count.WithContext(ctx), c.es.Count.WithIndex(index))
	if err != nil {
		return 0, fmt.Errorf("%w: counting index %q: %v", ErrMappingFailed, index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("%w: counting index %q: %s", ErrMappingFailed, index, res.String())
	}

	var decoded struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("%w: decoding count for %q: %v", ErrMappingFailed, index, err)
	}
	return decoded.Count, nil
}
