//go:build cgo

package dolt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flightvault/recovery/internal/store"
	"github.com/flightvault/recovery/internal/types"
)

// upsertChunkSize bounds how many rows go into a single multi-value INSERT,
// mirroring the teacher's BatchIN chunking (DefaultBatchSize=500) — large
// value lists create statements Dolt cannot plan efficiently.
const upsertChunkSize = 500

// UpsertBatch implements store.Adapter. t must have come from this
// DoltStore's TxBegin.
func (s *DoltStore) UpsertBatch(ctx context.Context, t store.Tx, kind, pk string, records []types.Record) (store.UpsertResult, error) {
	if s.readOnly {
		return store.UpsertResult{}, types.Precondition("dolt.UpsertBatch", "store %q opened read-only", s.database)
	}
	dt, ok := t.(*tx)
	if !ok || dt.store != s {
		return store.UpsertResult{}, types.StoreFailure("dolt.UpsertBatch", fmt.Errorf("tx did not originate from this store"))
	}
	if err := validateIdentifier(kind); err != nil {
		return store.UpsertResult{}, err
	}
	if err := s.ensureTable(ctx, kind); err != nil {
		return store.UpsertResult{}, err
	}
	if len(records) == 0 {
		return store.UpsertResult{}, nil
	}

	kindRef := types.EntityKind{PrimaryKey: pk}
	keys := make([]string, 0, len(records))
	for _, r := range records {
		key, ok := kindRef.PK(r)
		if !ok {
			return store.UpsertResult{}, types.Precondition("dolt.UpsertBatch", "record missing primary key %q", pk)
		}
		keys = append(keys, key)
	}

	existing, err := dt.existingKeys(ctx, kind, keys)
	if err != nil {
		return store.UpsertResult{}, types.StoreFailure("dolt.UpsertBatch", err)
	}

	result := store.UpsertResult{}
	for start := 0; start < len(records); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := dt.upsertChunk(ctx, kind, keys[start:end], records[start:end]); err != nil {
			return result, types.StoreFailure("dolt.UpsertBatch", err)
		}
	}

	for _, k := range keys {
		if existing[k] {
			result.Updated++
		} else {
			result.Inserted++
		}
	}
	return result, nil
}

func (t *tx) existingKeys(ctx context.Context, kind string, keys []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(keys))
	for start := 0; start < len(keys); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, k := range chunk {
			placeholders[i] = "?"
			args[i] = k
		}
		//nolint:gosec // G201: kind validated by caller, placeholders are ? markers only
		query := fmt.Sprintf("SELECT pk FROM `%s` WHERE pk IN (%s)", kind, strings.Join(placeholders, ","))
		rows, err := t.sqlTx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("dolt: failed to check existing keys in %q: %w", kind, err)
		}
		for rows.Next() {
			var pk string
			if err := rows.Scan(&pk); err != nil {
				rows.Close()
				return nil, err
			}
			existing[pk] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return existing, nil
}

func (t *tx) upsertChunk(ctx context.Context, kind string, keys []string, records []types.Record) error {
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*2)
	for i, r := range records {
		payload, err := json.Marshal(types.StripProvenance(r))
		if err != nil {
			return fmt.Errorf("dolt: failed to encode record %q: %w", keys[i], err)
		}
		placeholders[i] = "(?, ?)"
		args = append(args, keys[i], payload)
	}
	//nolint:gosec // G201: kind validated by caller, placeholders are ? markers only
	query := fmt.Sprintf(
		"INSERT INTO `%s` (pk, data) VALUES %s ON DUPLICATE KEY UPDATE data = VALUES(data)",
		kind, strings.Join(placeholders, ","))
	_, err := t.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("dolt: failed to upsert batch into %q: %w", kind, err)
	}
	return nil
}
