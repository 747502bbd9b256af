package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kiwiwatt/kiwiwatt/pkg/log"
	"github.com/kiwiwatt/kiwiwatt/pkg/types"
)

const entriesCollection = "config_entries"

// FirestoreProvider implements Database using Google Cloud Firestore.
// Each entry is one document keyed by entry ID holding the entry as JSON.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// project ID may be empty and detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func decodeEntryDoc(ctx context.Context, doc *firestore.DocumentSnapshot) (types.ConfigEntry, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "entry doc missing json", slog.String("entryID", doc.Ref.ID))
		return types.ConfigEntry{}, fmt.Errorf("entry %s missing json: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "entry doc json not string", slog.String("entryID", doc.Ref.ID))
		return types.ConfigEntry{}, fmt.Errorf("entry %s json not string", doc.Ref.ID)
	}
	var entry types.ConfigEntry
	if err := json.Unmarshal([]byte(jsonStr), &entry); err != nil {
		return types.ConfigEntry{}, fmt.Errorf("failed to unmarshal entry %s: %w", doc.Ref.ID, err)
	}
	return entry, nil
}

// GetEntry retrieves an entry from the "config_entries" collection.
func (f *FirestoreProvider) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	if entryID == "" {
		return types.ConfigEntry{}, fmt.Errorf("entryID cannot be empty")
	}
	doc, err := f.client.Collection(entriesCollection).Doc(entryID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ConfigEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return types.ConfigEntry{}, fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}
	return decodeEntryDoc(ctx, doc)
}

// ListEntries returns every entry belonging to domain.
func (f *FirestoreProvider) ListEntries(ctx context.Context, domain string) ([]types.ConfigEntry, error) {
	iter := f.client.Collection(entriesCollection).
		Where("domain", "==", domain).
		Documents(ctx)
	defer iter.Stop()

	var entries []types.ConfigEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating entries: %w", err)
		}
		entry, err := decodeEntryDoc(ctx, doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PutEntry creates or replaces an entry document.
func (f *FirestoreProvider) PutEntry(ctx context.Context, entry types.ConfigEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("entryID cannot be empty")
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s: %w", entry.ID, err)
	}
	_, err = f.client.Collection(entriesCollection).Doc(entry.ID).Set(ctx, map[string]interface{}{
		"json":      string(entryJSON),
		"domain":    entry.Domain,
		"updatedAt": entry.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteEntry removes an entry document. Deleting a missing entry returns
// ErrEntryNotFound.
func (f *FirestoreProvider) DeleteEntry(ctx context.Context, entryID string) error {
	if entryID == "" {
		return fmt.Errorf("entryID cannot be empty")
	}
	_, err := f.client.Collection(entriesCollection).Doc(entryID).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	return nil
}
