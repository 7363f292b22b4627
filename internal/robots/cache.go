package robots

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/temoto/robotstxt"
)

// Cache holds parsed robots.txt files per origin (scheme://host).
type Cache struct {
	hc  *http.Client
	lru *expirable.LRU[string, *robotstxt.RobotsData]
	ua  string
}

func NewCache(hc *http.Client, ua string) *Cache {
	return &Cache{
		hc:  hc,
		lru: expirable.NewLRU[string, *robotstxt.RobotsData](4096, nil, 24*time.Hour),
		ua:  ua,
	}
}

// Get returns the rules for origin. Unreachable or missing files allow everything.
func (c *Cache) Get(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	if v, ok := c.lru.Get(origin); ok {
		return v, nil
	}
	rd := c.fetch(ctx, origin)
	c.lru.Add(origin, rd)
	return rd, nil
}

func (c *Cache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	empty, _ := robotstxt.FromBytes(nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return empty
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.hc.Do(req)
	if err != nil {
		return empty
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return empty
	}
	rd, err := robotstxt.FromBytes(b)
	if err != nil {
		return empty
	}
	return rd
}

// AllowedURL reports whether ua may fetch rawURL.
func (c *Cache) AllowedURL(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	rd, _ := c.Get(ctx, u.Scheme+"://"+u.Host)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return Allowed(rd, c.ua, path)
}

func Allowed(rd *robotstxt.RobotsData, ua, path string) bool {
	if rd == nil {
		return true
	}
	g := rd.FindGroup(ua)
	if g == nil {
		return true
	}
	return g.Test(path)
}
