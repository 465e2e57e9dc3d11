package store

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"

	"papertrader/internal/models"
)

// NewFirebaseApp initialises the Firebase app shared by the Firestore store and push delivery.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("инициализация firebase: %w", err)
	}
	return app, nil
}

type firestoreDoc struct {
	Version int    `firestore:"version"`
	SavedAt int64  `firestore:"saved_at"`
	Payload string `firestore:"payload"`
}

// FirestoreStore keeps the snapshot as a JSON payload inside a single document.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	document   string
}

func NewFirestoreStore(ctx context.Context, app *firebase.App, collection, document string) (*FirestoreStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("клиент firestore: %w", err)
	}
	return &FirestoreStore{client: client, collection: collection, document: document}, nil
}

func (s *FirestoreStore) Name() string {
	return "firestore"
}

func (s *FirestoreStore) doc() *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.document)
}

func (s *FirestoreStore) Get(ctx context.Context) (models.PersistedSnapshot, error) {
	var snap models.PersistedSnapshot
	ds, err := s.doc().Get(ctx)
	if err != nil {
		if ds != nil && !ds.Exists() {
			return snap, ErrNoSnapshot
		}
		return snap, fmt.Errorf("чтение firestore: %w", err)
	}
	var doc firestoreDoc
	if err := ds.DataTo(&doc); err != nil {
		return snap, fmt.Errorf("разбор документа firestore: %w", err)
	}
	if err := json.Unmarshal([]byte(doc.Payload), &snap); err != nil {
		return snap, fmt.Errorf("разбор снапшота firestore: %w", err)
	}
	return snap, nil
}

func (s *FirestoreStore) Set(ctx context.Context, snap models.PersistedSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.doc().Set(ctx, firestoreDoc{Version: snap.Version, SavedAt: snap.SavedAt, Payload: string(data)})
	if err != nil {
		return fmt.Errorf("запись firestore: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
