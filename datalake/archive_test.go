package datalake_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"charterbooks/reconciler/datalake"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mock for DataStore interface.
type mockDataStore struct {
	bulkWriteFunc func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	insertOneFunc func(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

func (m *mockDataStore) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	if m.bulkWriteFunc != nil {
		return m.bulkWriteFunc(ctx, models, opts...)
	}
	return &mongo.BulkWriteResult{}, nil
}

func (m *mockDataStore) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if m.insertOneFunc != nil {
		return m.insertOneFunc(ctx, document, opts...)
	}
	return &mongo.InsertOneResult{}, nil
}

// Mock for CollectionProvider interface.
type mockCollectionProvider struct {
	collectionFunc func(name string) datalake.DataStore
}

func (m *mockCollectionProvider) Collection(name string) datalake.DataStore {
	if m.collectionFunc != nil {
		return m.collectionFunc(name)
	}
	return &mockDataStore{}
}

func TestNewMongoArchive(t *testing.T) {
	provider := &mockCollectionProvider{}
	archive := datalake.NewMongoArchive(provider)
	if archive == nil {
		t.Error("NewMongoArchive returned nil")
	}
}

func TestArchiveRows_Success(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]string{
		{"posting date": "01/02/2024", "description": "DEPOSIT", "amount": "120.00"},
		{"posting date": "01/03/2024", "description": "FEE", "amount": "-5.00"},
	}

	mockDS := &mockDataStore{
		bulkWriteFunc: func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			if len(models) != 2 {
				t.Errorf("Expected 2 write models, got %d", len(models))
			}
			return &mongo.BulkWriteResult{UpsertedCount: 2}, nil
		},
		insertOneFunc: func(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
			syncLog, ok := document.(datalake.SyncLog)
			if !ok {
				t.Errorf("Expected SyncLog document, got %T", document)
			}
			if syncLog.CollectionName != "statement_rows_westpac" {
				t.Errorf("Expected CollectionName %s, got %s", "statement_rows_westpac", syncLog.CollectionName)
			}
			if syncLog.RecordsUploaded != int64(len(rows)) {
				t.Errorf("Expected RecordsUploaded %d, got %d", len(rows), syncLog.RecordsUploaded)
			}
			return &mongo.InsertOneResult{}, nil
		},
	}

	provider := &mockCollectionProvider{
		collectionFunc: func(name string) datalake.DataStore {
			if name != "statement_rows_westpac" && name != "dataSync" {
				t.Errorf("Expected collection name %s or dataSync, got %s", "statement_rows_westpac", name)
			}
			return mockDS
		},
	}

	archive := datalake.NewMongoArchive(provider)
	err := archive.ArchiveRows(ctx, "westpac", "3581", rows)
	if err != nil {
		t.Errorf("ArchiveRows failed: %v", err)
	}
}

func TestArchiveRows_EmptyRows(t *testing.T) {
	ctx := context.Background()
	archive := datalake.NewMongoArchive(&mockCollectionProvider{})
	err := archive.ArchiveRows(ctx, "westpac", "3581", nil)
	if err != nil {
		t.Errorf("ArchiveRows failed for empty rows: %v", err)
	}
}

func TestArchiveRows_BulkWriteError(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]string{
		{"posting date": "01/02/2024", "description": "DEPOSIT", "amount": "120.00"},
	}
	expectedErr := errors.New("bulk write error")

	mockDS := &mockDataStore{
		bulkWriteFunc: func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			return nil, expectedErr
		},
	}

	provider := &mockCollectionProvider{
		collectionFunc: func(name string) datalake.DataStore {
			return mockDS
		},
	}

	archive := datalake.NewMongoArchive(provider)
	err := archive.ArchiveRows(ctx, "westpac", "3581", rows)
	if err == nil || !strings.Contains(err.Error(), expectedErr.Error()) {
		t.Errorf("Expected bulk write error, got: %v", err)
	}
}

func TestArchiveRows_SyncLogError(t *testing.T) {
	ctx := context.Background()
	rows := []map[string]string{
		{"posting date": "01/02/2024", "description": "DEPOSIT", "amount": "120.00"},
	}
	expectedErr := errors.New("sync log error")

	mockDS := &mockDataStore{
		bulkWriteFunc: func(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
			return &mongo.BulkWriteResult{UpsertedCount: 1}, nil
		},
		insertOneFunc: func(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
			return nil, expectedErr
		},
	}

	provider := &mockCollectionProvider{
		collectionFunc: func(name string) datalake.DataStore {
			return mockDS
		},
	}

	archive := datalake.NewMongoArchive(provider)
	err := archive.ArchiveRows(ctx, "westpac", "3581", rows)
	if err == nil || !strings.Contains(err.Error(), expectedErr.Error()) {
		t.Errorf("Expected sync log error, got: %v", err)
	}
}
