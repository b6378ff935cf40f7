package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"powerdash/internal/schema"
)

// Redis stores records and columns as JSON values:
//
//	<prefix>:ds:<id>    DataSource
//	<prefix>:cols:<id>  []ColumnDescriptor
//	<prefix>:ids        set of ids
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis wraps an existing client. prefix namespaces every key.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "powerdash"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) dsKey(id string) string   { return r.prefix + ":ds:" + id }
func (r *Redis) colsKey(id string) string { return r.prefix + ":cols:" + id }
func (r *Redis) idsKey() string           { return r.prefix + ":ids" }

func (r *Redis) Get(ctx context.Context, id string) (DataSource, error) {
	var ds DataSource
	if err := r.getJSON(ctx, r.dsKey(id), &ds); err != nil {
		return DataSource{}, err
	}
	return ds, nil
}

func (r *Redis) Put(ctx context.Context, ds DataSource) error {
	b, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", ds.ID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.dsKey(ds.ID), b, 0)
		p.SAdd(ctx, r.idsKey(), ds.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: put %s: %w", ds.ID, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, r.dsKey(id))
		p.Del(ctx, r.colsKey(id))
		p.SRem(ctx, r.idsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]DataSource, error) {
	ids, err := r.rdb.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.dsKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}

	out := make([]DataSource, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Deleted between SMEMBERS and MGET.
			continue
		}
		var ds DataSource
		if err := json.Unmarshal([]byte(s), &ds); err != nil {
			return nil, fmt.Errorf("catalog: decode %s: %w", ids[i], err)
		}
		out = append(out, ds)
	}
	sortSources(out)
	return out, nil
}

func (r *Redis) Columns(ctx context.Context, id string) ([]schema.ColumnDescriptor, error) {
	var cols []schema.ColumnDescriptor
	if err := r.getJSON(ctx, r.colsKey(id), &cols); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, ErrNotFound
	}
	if err := checkColumns(cols); err != nil {
		return nil, fmt.Errorf("catalog: columns %s: %w", id, err)
	}
	return cols, nil
}

func (r *Redis) ReplaceColumns(ctx context.Context, id string, cols []schema.ColumnDescriptor) error {
	if err := checkColumns(cols); err != nil {
		return err
	}
	b, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("catalog: encode columns %s: %w", id, err)
	}
	if err := r.rdb.Set(ctx, r.colsKey(id), b, 0).Err(); err != nil {
		return fmt.Errorf("catalog: replace columns %s: %w", id, err)
	}
	return nil
}

func (r *Redis) DeleteColumns(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, r.colsKey(id)).Err(); err != nil {
		return fmt.Errorf("catalog: delete columns %s: %w", id, err)
	}
	return nil
}

func (r *Redis) getJSON(ctx context.Context, key string, dst any) error {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("catalog: get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("catalog: decode %s: %w", key, err)
	}
	return nil
}

var _ Store = (*Redis)(nil)
