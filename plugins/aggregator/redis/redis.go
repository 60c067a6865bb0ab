// Package redis 将单文件统计累加进 Redis 哈希：<key_prefix><dest> → {stat[.sub...]: 值}。
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"statsrunner/internal/numeric"
	"statsrunner/pkg/contract"
)

// Options: redis 聚合器选项。
type Options struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
	// TTLSeconds: >0 时为每个哈希设置过期时间。
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// DefaultKeyPrefix 未配置 key_prefix 时使用。
const DefaultKeyPrefix = "statsrunner:"

const connectionTimeout = 5 * time.Second

// ErrEmptyAddress addr 未配置。
var ErrEmptyAddress = errors.New("redis address is required")

type Redis struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New 建立连接并 Ping 验证。
func New(opts *Options) (*Redis, error) {
	if opts == nil || strings.TrimSpace(opts.Addr) == "" {
		return nil, ErrEmptyAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	r := NewWithClient(client, opts.KeyPrefix)
	if opts.TTLSeconds > 0 {
		r.ttl = time.Duration(opts.TTLSeconds) * time.Second
	}
	return r, nil
}

// NewWithClient 复用已有客户端。
func NewWithClient(client goredis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

var (
	_ contract.Aggregator      = (*Redis)(nil)
	_ contract.AggregateLookup = (*Redis)(nil)
)

// Key 返回 dest 对应的哈希键。
func (r *Redis) Key(dest string) string { return r.prefix + filepath.ToSlash(dest) }

// Aggregate 数值叶子以 HINCRBYFLOAT 累加，其余叶子以 JSON 文本 HSET 覆盖；单事务提交。
func (r *Redis) Aggregate(ctx context.Context, _ *contract.Module, fs contract.FileStats, dest string) error {
	acc, err := numeric.Fold(ctx, fs)
	if err != nil {
		return err
	}
	fields := make(map[string]any)
	for name, v := range acc {
		flatten(name, v, fields)
	}
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := r.Key(dest)
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, f := range keys {
			switch v := fields[f].(type) {
			case float64:
				pipe.HIncrByFloat(ctx, key, f, v)
			default:
				b, err := json.Marshal(numeric.JSON(v))
				if err != nil {
					return err
				}
				pipe.HSet(ctx, key, f, string(b))
			}
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis aggregate %s: %w", key, err)
	}
	return nil
}

// Exists 报告 dest 对应的哈希是否存在。
// 没有任何统计字段的文件不会产生哈希，new 模式下会被重新处理（对计数无影响）。
func (r *Redis) Exists(ctx context.Context, dest string) (bool, error) {
	n, err := r.client.Exists(ctx, r.Key(dest)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", r.Key(dest), err)
	}
	return n > 0, nil
}

// Close 释放连接。
func (r *Redis) Close() error { return r.client.Close() }

// flatten: 映射展开为以 "." 连接的字段名；数值转 float64，其余保留原值。
func flatten(prefix string, v any, out map[string]any) {
	if d, ok := numeric.ToDecimal(v); ok {
		out[prefix] = d.InexactFloat64()
		return
	}
	if m, ok := v.(map[string]any); ok {
		for k, e := range m {
			flatten(prefix+"."+k, e, out)
		}
		return
	}
	out[prefix] = v
}
