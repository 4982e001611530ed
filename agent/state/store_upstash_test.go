package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeUpstash understands the three commands the store sends.
type fakeUpstash struct {
	mu       sync.Mutex
	values   map[string]string
	commands [][]any
}

func (f *fakeUpstash) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var cmd []any
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Header.Get("Authorization") != "Bearer token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	switch cmd[0] {
	case "GET":
		v, ok := f.values[cmd[1].(string)]
		if !ok {
			fmt.Fprint(w, `{"result":null}`)
			return
		}
		encoded, _ := json.Marshal(v)
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	case "EVAL":
		key := cmd[3].(string)
		expected := int64(cmd[4].(float64))
		var stored int64
		if cur, ok := f.values[key]; ok {
			var probe struct {
				Version int64 `json:"version"`
			}
			_ = json.Unmarshal([]byte(cur), &probe)
			stored = probe.Version
		}
		if stored != expected {
			fmt.Fprint(w, `{"result":0}`)
			return
		}
		f.values[key] = cmd[5].(string)
		fmt.Fprint(w, `{"result":1}`)
	case "DEL":
		delete(f.values, cmd[1].(string))
		fmt.Fprint(w, `{"result":1}`)
	default:
		fmt.Fprint(w, `{"error":"ERR unknown command"}`)
	}
}

func newTestUpstashStore(t *testing.T) (*UpstashRedisStore, *fakeUpstash) {
	t.Helper()

	fake := &fakeUpstash{values: make(map[string]string)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store, fake
}

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{keyPrefix: defaultStoreKeyPrefix}
	got, err := store.redisKey("abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "lead:session:abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "lead:session:abc")
	}
}

func TestUpstashRedisStoreRedisKeyEmptySession(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpstashRedisStoreSaveUsesCompareAndSet(t *testing.T) {
	t.Parallel()

	store, fake := newTestUpstashStore(t)
	st := NewSession("client-1", time.Now().UTC())
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cmd := fake.commands[0]
	if cmd[0] != "EVAL" {
		t.Fatalf("command[0] = %v, want EVAL", cmd[0])
	}
	if cmd[3] != "lead:session:client-1" {
		t.Fatalf("command key = %v, want lead:session:client-1", cmd[3])
	}
	if cmd[4].(float64) != 0 {
		t.Fatalf("expected version = %v, want 0", cmd[4])
	}
	if st.Version != 1 {
		t.Fatalf("Version = %d, want 1", st.Version)
	}
}

func TestUpstashRedisStoreRoundTripAndConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestUpstashStore(t)

	seed := NewSession("client-2", time.Now().UTC())
	seed.Name = "Luis"
	if err := store.Save(ctx, seed); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "client-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Name != "Luis" || loaded.Version != 1 {
		t.Fatalf("Load() = %+v", loaded)
	}

	stale := loaded.Clone()
	loaded.PurchaseType = PurchaseUsed
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	stale.PurchaseType = PurchaseNew
	if err := store.Save(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Save() stale error = %v, want ErrVersionConflict", err)
	}
}

func TestUpstashRedisStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store, _ := newTestUpstashStore(t)
	if _, err := store.Load(context.Background(), "ghost"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestUpstashRedisStoreDeleteUsesSessionKey(t *testing.T) {
	t.Parallel()

	store, fake := newTestUpstashStore(t)
	if err := store.Delete(context.Background(), "client-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	cmd := fake.commands[0]
	if cmd[0] != "DEL" || cmd[1] != "lead:session:client-3" {
		t.Fatalf("unexpected command: %#v", cmd)
	}
}

func TestUpstashRedisStoreSurfacesRESTErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "c1"); err == nil {
		t.Fatal("Load() error = nil, want http status error")
	}
}
