package services

import (
	"context"
	"errors"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/joho/godotenv"

	"medivoice/models"
)

// FirestoreClient wraps the firebase client used to archive finished calls.
type FirestoreClient struct {
	client *firestore.Client
	ctx    context.Context
}

var firestoreClient *FirestoreClient

// InitFirestore initializes the Firestore client
func InitFirestore() (*FirestoreClient, error) {
	if firestoreClient != nil {
		return firestoreClient, nil
	}

	_ = godotenv.Load()

	ctx := context.Background()

	var app *firebase.App
	var err error

	// Check if running in production with environment variable
	if credJSON := os.Getenv("FIREBASE_CREDENTIALS_JSON"); credJSON != "" {
		// Use credentials from environment variable
		opt := option.WithCredentialsJSON([]byte(credJSON))
		app, err = firebase.NewApp(ctx, nil, opt)
	} else if credFile := os.Getenv("FIREBASE_CREDENTIALS_FILE"); credFile != "" {
		// Use credentials from a file
		opt := option.WithCredentialsFile(credFile)
		app, err = firebase.NewApp(ctx, nil, opt)
	} else {
		// Try to use default credentials
		app, err = firebase.NewApp(ctx, nil)
	}

	if err != nil {
		return nil, err
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, err
	}

	firestoreClient = &FirestoreClient{
		client: client,
		ctx:    ctx,
	}

	return firestoreClient, nil
}

func callsCollection() string {
	if name := os.Getenv("FIRESTORE_CALLS_COLLECTION"); name != "" {
		return name
	}
	return "call_records"
}

// SaveCallRecord archives a finished call, keyed by its session id.
func (fc *FirestoreClient) SaveCallRecord(record models.CallRecord) (string, error) {
	ref := fc.client.Collection(callsCollection()).Doc(record.SessionID)
	_, err := ref.Set(fc.ctx, record)
	return record.SessionID, err
}

// GetCallRecord retrieves an archived call by session id.
func (fc *FirestoreClient) GetCallRecord(sessionID string) (*models.CallRecord, error) {
	if sessionID == "" {
		return nil, errors.New("session ID is required")
	}

	docSnap, err := fc.client.Collection(callsCollection()).Doc(sessionID).Get(fc.ctx)
	if err != nil {
		return nil, err
	}
	if !docSnap.Exists() {
		return nil, errors.New("call record not found")
	}

	var record models.CallRecord
	if err := docSnap.DataTo(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetCallRecordsByCaller retrieves archived calls for one caller number,
// most recent first.
func (fc *FirestoreClient) GetCallRecordsByCaller(callerID string, limit int) ([]*models.CallRecord, error) {
	if callerID == "" {
		return nil, errors.New("caller ID is required")
	}
	if limit <= 0 {
		limit = 20
	}

	query := fc.client.Collection(callsCollection()).
		Where("caller_id", "==", callerID).
		OrderBy("start_time", firestore.Desc).
		Limit(limit)
	docs, err := query.Documents(fc.ctx).GetAll()
	if err != nil {
		return nil, err
	}

	var records []*models.CallRecord
	for _, doc := range docs {
		var record models.CallRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

// Close closes the Firestore client
func (fc *FirestoreClient) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

// GetFirestoreClient returns the singleton instance of FirestoreClient
func GetFirestoreClient() (*FirestoreClient, error) {
	if firestoreClient == nil {
		return InitFirestore()
	}
	return firestoreClient, nil
}
