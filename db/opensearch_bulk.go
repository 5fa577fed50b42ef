package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"neptunesearch.evalgo.org/common"
)

// BulkChunkSize bounds the number of actions sent in one bulk request.
const BulkChunkSize = 2000

// Bulk operation types.
const (
	BulkOpUpdate = "update"
	BulkOpDelete = "delete"
)

// Script is a server-side scripted update. The scripts used by the
// replication pipeline are idempotent, so duplicate delivery of the same
// action is safe.
type Script struct {
	Source string         `json:"source"`
	Lang   string         `json:"lang"`
	Params map[string]any `json:"params"`
}

// BulkAction is one entry of a bulk request: a scripted update (optionally
// with an upsert body) or a whole-document delete.
type BulkAction struct {
	OpType string
	ID     string
	Script *Script
	Upsert map[string]any
}

// BulkItemError is the failure of a single bulk action.
type BulkItemError struct {
	OpType string
	ID     string
	Status int
	Type   string
	Reason string
}

// IsMissingDocument reports whether the failure is a 404 update on an
// absent document.
func (e BulkItemError) IsMissingDocument() bool {
	return e.OpType == BulkOpUpdate && e.Status == http.StatusNotFound && e.Type == "document_missing_exception"
}

// BulkError reports that one or more bulk actions failed. Transport-level
// problems are returned as plain errors instead.
type BulkError struct {
	Items []BulkItemError
}

func (e *BulkError) Error() string {
	if len(e.Items) == 0 {
		return "bulk update failed"
	}
	first := e.Items[0]
	return fmt.Sprintf("%d document(s) failed to index, first error: %s (%s)", len(e.Items), first.Type, first.Reason)
}

// Bulk sends the actions through the bulk endpoint in chunks of
// BulkChunkSize. It returns the number of succeeded actions and the
// per-item errors; the error return carries transport-level failures only.
// Deleting an absent document counts as success, matching the idempotence
// of the scripted updates.
func (c *SearchClient) Bulk(ctx context.Context, actions []BulkAction) (int, []BulkItemError, error) {
	succeeded := 0
	var itemErrors []BulkItemError

	for _, chunk := range common.SplitChunks(actions, BulkChunkSize) {
		body, err := encodeBulkBody(chunk)
		if err != nil {
			return succeeded, itemErrors, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+SearchIndex+"/_bulk", bytes.NewReader(body))
		if err != nil {
			return succeeded, itemErrors, fmt.Errorf("failed to create bulk request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-ndjson")
		if c.signer != nil {
			if err := c.signer.SignRequest(ctx, req); err != nil {
				return succeeded, itemErrors, err
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return succeeded, itemErrors, fmt.Errorf("failed to send bulk request: %w", err)
		}
		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return succeeded, itemErrors, fmt.Errorf("failed to read bulk response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return succeeded, itemErrors, decodeRequestError(resp.StatusCode, payload)
		}

		ok, errs, err := decodeBulkResponse(payload)
		if err != nil {
			return succeeded, itemErrors, err
		}
		succeeded += ok
		itemErrors = append(itemErrors, errs...)
	}
	return succeeded, itemErrors, nil
}

// encodeBulkBody renders the NDJSON payload of one bulk request.
func encodeBulkBody(actions []BulkAction) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, action := range actions {
		meta := map[string]any{
			action.OpType: map[string]any{"_index": SearchIndex, "_id": action.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action metadata: %w", err)
		}
		if action.OpType == BulkOpDelete {
			continue
		}
		doc := map[string]any{"script": action.Script}
		if action.Upsert != nil {
			doc["upsert"] = action.Upsert
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action body: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decodeBulkResponse(payload []byte) (int, []BulkItemError, error) {
	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return 0, nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}

	succeeded := 0
	var itemErrors []BulkItemError
	for _, item := range parsed.Items {
		for opType, result := range item {
			if result.Status >= 200 && result.Status < 300 {
				succeeded++
				continue
			}
			// A delete against an absent document is a no-op, not a failure.
			if opType == BulkOpDelete && result.Status == http.StatusNotFound {
				succeeded++
				continue
			}
			itemError := BulkItemError{
				OpType: opType,
				ID:     result.ID,
				Status: result.Status,
			}
			if result.Error != nil {
				itemError.Type = result.Error.Type
				itemError.Reason = result.Error.Reason
			}
			itemErrors = append(itemErrors, itemError)
		}
	}
	return succeeded, itemErrors, nil
}
