package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"

	"github.com/gustycube/ip-sentinel/internal/httpclient"
)

// ScriptID is the element id carrying the machine-readable snapshot in the edge page.
const ScriptID = "cf-data"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrNoSnapshot = errors.New("page carries no connection snapshot")

// PageSource reads the snapshot a deployed edge responder embedded for this caller.
type PageSource struct {
	URL    string
	UA     string
	Client *http.Client
}

func (p PageSource) Fetch(ctx context.Context) (Connection, error) {
	client := p.Client
	if client == nil {
		client = httpclient.Default()
	}
	body, err := httpclient.Get(ctx, client, p.URL, p.UA)
	if err != nil {
		return Connection{}, fmt.Errorf("fetch edge page: %w", err)
	}
	return Extract(bytes.NewReader(body))
}

// Extract finds the snapshot script element in an HTML document and decodes it.
func Extract(r io.Reader) (Connection, error) {
	z := html.NewTokenizer(r)
	inSnapshot := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return Connection{}, ErrNoSnapshot
			}
			return Connection{}, z.Err()
		case html.StartTagToken:
			t := z.Token()
			if !strings.EqualFold(t.Data, "script") {
				continue
			}
			for _, a := range t.Attr {
				if strings.EqualFold(a.Key, "id") && a.Val == ScriptID {
					inSnapshot = true
				}
			}
		case html.TextToken:
			if !inSnapshot {
				continue
			}
			var c Connection
			if err := json.Unmarshal(z.Text(), &c); err != nil {
				return Connection{}, fmt.Errorf("decode snapshot: %w", err)
			}
			return c, nil
		case html.EndTagToken:
			inSnapshot = false
		}
	}
}
