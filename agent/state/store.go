package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultStoreKeyPrefix = "lead:session:"
	maxResponseSizeBytes  = 2 << 20
	maxMutateAttempts     = 5
)

// Store persists sessions. Save is conditional: it succeeds only when the stored
// revision still equals st.Version (0 meaning absent) and then bumps st.Version.
type Store interface {
	Load(ctx context.Context, clientID string) (*Session, error)
	Save(ctx context.Context, st *Session) error
	Delete(ctx context.Context, clientID string) error
}

// Mutate loads the session for clientID (creating it when absent), applies fn and saves it
// with a version check. fn is re-run on a fresh copy when a concurrent writer wins the race.
func Mutate(ctx context.Context, store Store, clientID string, now time.Time, fn func(*Session) error) (*Session, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, ErrInvalidSession
	}
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		st, err := store.Load(ctx, clientID)
		if errors.Is(err, ErrStateNotFound) {
			st = NewSession(clientID, now)
		} else if err != nil {
			return nil, err
		}

		if err := fn(st); err != nil {
			if errors.Is(err, ErrNoChange) {
				return st, nil
			}
			return nil, err
		}
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("state validation failed: %w", err)
		}

		err = store.Save(ctx, st)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: client_id=%s after %d attempts", ErrVersionConflict, clientID, maxMutateAttempts)
}

type storeOptions struct {
	keyPrefix  string
	ttl        time.Duration
	httpClient *http.Client
}

// StoreOption customizes the key/value backed stores.
type StoreOption func(*storeOptions)

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			o.keyPrefix = trimmed
		}
	}
}

// WithTTL sets a physical expiry on stored sessions. Zero keeps them forever;
// inactivity resets are logical and do not depend on it.
func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(o *storeOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func applyStoreOptions(opts []StoreOption) (storeOptions, error) {
	o := storeOptions{keyPrefix: defaultStoreKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.ttl < 0 {
		return o, errors.New("ttl must be >= 0")
	}
	return o, nil
}

func sessionKey(prefix, clientID string) (string, error) {
	if strings.TrimSpace(clientID) == "" {
		return "", ErrInvalidSession
	}
	return strings.TrimSpace(prefix) + clientID, nil
}

// encodeNext marshals st as it will look after a successful save.
func encodeNext(st *Session) ([]byte, error) {
	if st == nil {
		return nil, ErrNilSessionState
	}
	if strings.TrimSpace(st.ClientID) == "" {
		return nil, ErrInvalidSession
	}
	next := st.Clone()
	next.Version = st.Version + 1
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}
	return payload, nil
}

func decodeSession(raw []byte) (*Session, error) {
	var st Session
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if st.DispatchStatus == "" {
		st.DispatchStatus = DispatchNone
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from store: %w", err)
	}
	return &st, nil
}

// UpstashRedisStore persists sessions in Upstash Redis via REST.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	o, err := applyStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		keyPrefix:  o.keyPrefix,
		ttl:        o.ttl,
	}, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, clientID string) (*Session, error) {
	key, err := s.redisKey(clientID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	return decodeSession([]byte(encoded))
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *Session) error {
	payload, err := encodeNext(st)
	if err != nil {
		return err
	}
	key, err := s.redisKey(st.ClientID)
	if err != nil {
		return err
	}

	cmd := []any{"EVAL", compareAndSetScript, 1, key, st.Version, string(payload), ttlSeconds(s.ttl)}
	resp, err := s.exec(ctx, cmd)
	if err != nil {
		return err
	}

	var applied int64
	if err := json.Unmarshal(resp.Result, &applied); err != nil {
		return fmt.Errorf("decode compare-and-set result: %w", err)
	}
	if applied != 1 {
		return fmt.Errorf("%w: client_id=%s version=%d", ErrVersionConflict, st.ClientID, st.Version)
	}
	st.Version++
	return nil
}

func (s *UpstashRedisStore) Delete(ctx context.Context, clientID string) error {
	key, err := s.redisKey(clientID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

func (s *UpstashRedisStore) redisKey(clientID string) (string, error) {
	return sessionKey(s.keyPrefix, clientID)
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	seconds := ttl / time.Second
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
