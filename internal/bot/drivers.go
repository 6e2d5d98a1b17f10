package bot

import (
	"context"
	"fmt"

	"wa-bot-go/internal/automation"
	"wa-bot-go/internal/browser"
	"wa-bot-go/internal/config"
	"wa-bot-go/internal/firestore"
	"wa-bot-go/internal/session"
	"wa-bot-go/internal/store"
	"wa-bot-go/internal/store/memory"
	"wa-bot-go/internal/store/sqlite"
	"wa-bot-go/internal/whatsapp"
)

const (
	DriverBrowser = "browser"
	DriverSocket  = "socket"
)

// OpenStore opens the durable store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.ConnectionID)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.GoogleCredentials, cfg.FirebaseProjectID)
		if err != nil {
			return nil, err
		}
		return firestore.NewStore(client, cfg.ConnectionID), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewLauncher returns the automation driver selected by WA_DRIVER and the
// session blob file it persists to. The socket driver keeps its own
// credentials, so its blob file is nil.
func NewLauncher(cfg *config.Config) (automation.Launcher, *session.BlobFile, error) {
	switch cfg.Driver {
	case DriverBrowser:
		return &browser.ChromeLauncher{
			BaseURL:     cfg.WAURL,
			ExecPath:    cfg.ChromePath,
			UserDataDir: cfg.ChromeUserData,
			Headless:    cfg.ChromeHeadless,
		}, session.NewBlobFile(cfg.SessionBlobPath), nil
	case DriverSocket:
		return &whatsapp.Launcher{
			DBPath:       cfg.SocketSessionDB,
			Origin:       cfg.WAURL,
			LIDCachePath: cfg.LIDCachePath,
		}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown WA_DRIVER %q", cfg.Driver)
	}
}
