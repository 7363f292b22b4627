package theme

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Memory struct {
	mu sync.Mutex
	v  string
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.v == "" {
		return "", ErrNotSet
	}
	return m.v, nil
}

func (m *Memory) Set(_ context.Context, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v = v
	return nil
}

// File keeps the preference as {"theme": "..."} at Path.
type File struct {
	Path string
}

type fileState struct {
	Theme string `json:"theme"`
}

func NewFile(path string) *File { return &File{Path: path} }

func (f *File) Get(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotSet
	}
	if err != nil {
		return "", err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return "", fmt.Errorf("parse %s: %w", f.Path, err)
	}
	if st.Theme == "" {
		return "", ErrNotSet
	}
	return st.Theme, nil
}

func (f *File) Set(_ context.Context, v string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(fileState{Theme: v})
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

const DefaultRedisKey = "sentinel:theme"

// Redis shares one preference across machines.
type Redis struct {
	cli *redis.Client
	key string
}

func NewRedis(addr, key string) (*Redis, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, err
	}
	return &Redis{cli: cli, key: key}, nil
}

func (r *Redis) Get(ctx context.Context) (string, error) {
	v, err := r.cli.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return "", ErrNotSet
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, v string) error {
	return r.cli.Set(ctx, r.key, v, 0).Err()
}

// Ping lets the health handler watch the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.cli.Close() }
