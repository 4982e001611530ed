package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type FirestoreConfig struct {
	ProjectID  string `envconfig:"PROJECT_ID" split_words:"true"`
	Collection string `envconfig:"COLLECTION" split_words:"true" default:"lead_sessions"`
}

// FirestoreStore keeps one document per client; saves run in a transaction that checks the version.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

type sessionDoc struct {
	Version   int64     `firestore:"version"`
	Payload   string    `firestore:"payload"`
	Stage     string    `firestore:"stage"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("firestore project id is required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return NewFirestoreStoreWithClient(client, cfg.Collection), nil
}

func NewFirestoreStoreWithClient(client *firestore.Client, collection string) *FirestoreStore {
	if strings.TrimSpace(collection) == "" {
		collection = "lead_sessions"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) Load(ctx context.Context, clientID string) (*Session, error) {
	if _, err := sessionKey("", clientID); err != nil {
		return nil, err
	}
	snap, err := s.client.Collection(s.collection).Doc(clientID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("firestore get %s: %w", clientID, err)
	}
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode session doc: %w", err)
	}
	return decodeSession([]byte(doc.Payload))
}

func (s *FirestoreStore) Save(ctx context.Context, st *Session) error {
	payload, err := encodeNext(st)
	if err != nil {
		return err
	}
	ref := s.client.Collection(s.collection).Doc(st.ClientID)

	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var stored int64
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var doc sessionDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode session doc: %w", err)
			}
			stored = doc.Version
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}
		if stored != st.Version {
			return fmt.Errorf("%w: client_id=%s have=%d want=%d", ErrVersionConflict, st.ClientID, st.Version, stored)
		}
		return tx.Set(ref, sessionDoc{
			Version:   st.Version + 1,
			Payload:   string(payload),
			Stage:     string(st.Stage()),
			UpdatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	st.Version++
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, clientID string) error {
	if _, err := sessionKey("", clientID); err != nil {
		return err
	}
	_, err := s.client.Collection(s.collection).Doc(clientID).Delete(ctx)
	return err
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
