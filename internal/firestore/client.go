// Package firestore stores the bot's records in Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"wa-bot-go/internal/logger"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Client wraps the Firestore client
type Client struct {
	fs        *firestore.Client
	ProjectID string
}

// NewClient connects with a service-account file, or with Application
// Default Credentials when credentialsPath is empty.
func NewClient(ctx context.Context, credentialsPath, projectID string) (*Client, error) {
	if projectID == "" && credentialsPath == "" && os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		return nil, errors.New("firestore needs FIREBASE_PROJECT_ID or GOOGLE_APPLICATION_CREDENTIALS")
	}

	var opts []option.ClientOption
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); err != nil {
			return nil, fmt.Errorf("credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firebase app: %w", err)
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	logger.Info("Firestore client initialized", "project", projectID, "credentials", credentialsPath != "")
	return &Client{fs: fs, ProjectID: projectID}, nil
}

func (c *Client) Close() error {
	if c.fs == nil {
		return nil
	}
	return c.fs.Close()
}

// Collection returns a reference to a collection
func (c *Client) Collection(path string) *firestore.CollectionRef {
	return c.fs.Collection(path)
}
