package aggregate

import (
	"context"
	"encoding/json"

	"nomadclient/pkg/client"
)

// DefaultBatchType is the entry type batch queries filter on.
const DefaultBatchType = "HySprint_Batch"

// archiveEntry is the envelope entries/archive/query returns per record.
type archiveEntry struct {
	Archive struct {
		Data archiveData `json:"data"`
	} `json:"archive"`
}

type archiveData struct {
	LabID    string `json:"lab_id"`
	Entities []struct {
		LabID string `json:"lab_id"`
	} `json:"entities"`
}

// BatchIDs returns the lab ids of all batches of the given type. An empty
// batchType falls back to DefaultBatchType.
func BatchIDs(ctx context.Context, c *client.Client, batchType string) ([]string, error) {
	if batchType == "" {
		batchType = DefaultBatchType
	}
	query := map[string]interface{}{
		"required":   map[string]interface{}{"data": "*"},
		"owner":      "visible",
		"query":      map[string]interface{}{"entry_type": batchType},
		"pagination": map[string]interface{}{"page_size": 10000},
	}

	data, err := c.QueryEntries(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, raw := range data {
		if labID := archiveLabID(raw); labID != "" {
			ids = append(ids, labID)
		}
	}
	return ids, nil
}

// IDsInBatch returns the lab ids of all entities contained in the given
// batches.
func IDsInBatch(ctx context.Context, c *client.Client, batchIDs []string, batchType string) ([]string, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}
	if batchType == "" {
		batchType = DefaultBatchType
	}
	query := map[string]interface{}{
		"required": map[string]interface{}{"data": "*"},
		"owner":    "visible",
		"query": map[string]interface{}{
			"results.eln.lab_ids:any": batchIDs,
			"entry_type":              batchType,
		},
		"pagination": map[string]interface{}{"page_size": 100},
	}

	data, err := c.QueryEntries(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, raw := range data {
		var entry archiveEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		for _, entity := range entry.Archive.Data.Entities {
			if entity.LabID != "" {
				ids = append(ids, entity.LabID)
			}
		}
	}
	return ids, nil
}

// UploadsByAuthor returns the lab ids of all entries authored by the given
// author. Returns nil for an empty author.
func UploadsByAuthor(ctx context.Context, c *client.Client, author string) ([]string, error) {
	if author == "" {
		return nil, nil
	}
	query := map[string]interface{}{
		"required":   map[string]interface{}{"data": "*"},
		"owner":      "visible",
		"query":      map[string]interface{}{"authors": author},
		"pagination": map[string]interface{}{"page_size": 10000},
	}

	data, err := c.QueryEntries(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, raw := range data {
		if labID := archiveLabID(raw); labID != "" {
			ids = append(ids, labID)
		}
	}
	return ids, nil
}

func archiveLabID(raw json.RawMessage) string {
	var entry archiveEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return ""
	}
	return entry.Archive.Data.LabID
}
