// store-check prints what the bot would read from the configured store.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"wa-bot-go/internal/bot"
	"wa-bot-go/internal/config"
	"wa-bot-go/internal/utils"
)

func main() {
	cfg := config.Load()

	fmt.Println("Checking store connection...")
	fmt.Printf("Driver: %s\n", cfg.StoreDriver)
	if cfg.StoreDriver == "firestore" {
		fmt.Printf("Project ID: %s\n", cfg.FirebaseProjectID)
		fmt.Printf("Credentials: %s\n", cfg.GoogleCredentials)
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := bot.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	rec, err := st.GetConnection(ctx)
	if err != nil {
		log.Fatalf("Failed to read connection record: %v", err)
	}
	if rec == nil {
		fmt.Printf("Connection %q: no record yet\n", cfg.ConnectionID)
	} else {
		fmt.Printf("Connection %q: connected=%v reason=%q attempts=%d\n",
			cfg.ConnectionID, rec.IsConnected, rec.DisconnectReason, rec.ReconnectAttempts)
	}

	sellers, err := st.ListProfilesByRole(ctx, utils.RoleSeller)
	if err != nil {
		log.Fatalf("Failed to list sellers: %v", err)
	}
	fmt.Printf("Sellers available for assignment: %d\n", len(sellers))
	for i, s := range sellers {
		fmt.Printf("  %d. %s (ID: %s)\n", i+1, s.Name, s.ID)
	}

	errs, err := st.RecentErrors(ctx, 5)
	if err != nil {
		log.Fatalf("Failed to read error log: %v", err)
	}
	fmt.Printf("\nLast %d errors:\n", len(errs))
	for _, e := range errs {
		fmt.Printf("  %s  %-24s %s\n", e.OccurredAt.Format(time.RFC3339), e.ErrorType, utils.Truncate(e.ErrorMessage, 80))
	}

	fmt.Println("\nStore check completed.")
}
