package cache

import (
	"context"
	"errors"
)

// Match 依次在 partitions 中查找 key，返回第一个命中；全部未命中时返回 ErrNotFound。
func Match(ctx context.Context, store Store, partitions []string, key string) (*ReadResult, error) {
	if store == nil {
		return nil, ErrNotFound
	}
	for _, name := range partitions {
		result, err := store.Get(ctx, Locator{Partition: name, Path: key})
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// Prune 删除 keep 之外的全部分区，并返回被删除的分区名。所有删除完成后才返回。
func Prune(ctx context.Context, store Store, keep []string) ([]string, error) {
	existing, err := store.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	current := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		current[name] = struct{}{}
	}

	var deleted []string
	for _, name := range existing {
		if _, ok := current[name]; ok {
			continue
		}
		if err := store.DeletePartition(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
