package cognito

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/pkg/errors"
)

// minRefetchInterval bounds how often an unknown kid triggers a refetch.
const minRefetchInterval = 30 * time.Second

type keySet struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	set       jose.JSONWebKeySet
	fetchedAt time.Time
}

func newKeySet(url string, client *http.Client) *keySet {
	return &keySet{url: url, client: client}
}

// key returns the public key for kid, fetching the key set when it is not
// cached yet or when kid is unknown (the pool may have rotated keys).
func (ks *keySet) key(ctx context.Context, kid string) (any, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if k, ok := ks.lookup(kid); ok {
		return k, nil
	}
	if !ks.fetchedAt.IsZero() && time.Since(ks.fetchedAt) < minRefetchInterval {
		return nil, errors.Errorf("unknown key id %q", kid)
	}
	if err := ks.fetch(ctx); err != nil {
		return nil, err
	}
	if k, ok := ks.lookup(kid); ok {
		return k, nil
	}
	return nil, errors.Errorf("unknown key id %q", kid)
}

func (ks *keySet) lookup(kid string) (any, bool) {
	for _, k := range ks.set.Key(kid) {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		return k.Key, true
	}
	return nil, false
}

func (ks *keySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return errors.Wrap(err, "build jwks request")
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "fetch jwks from %s", ks.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("fetch jwks from %s: status %d", ks.url, resp.StatusCode)
	}
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return errors.Wrap(err, "decode jwks")
	}
	ks.set = set
	ks.fetchedAt = time.Now()
	return nil
}
