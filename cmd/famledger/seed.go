package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/config"
	"github.com/alecgard/famledger/internal/ledger"
	"github.com/alecgard/famledger/internal/message"
	"github.com/alecgard/famledger/internal/service"
	"github.com/alecgard/famledger/internal/session"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo cluster with a host, two members and some history",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

const (
	demoCluster = "demo"
	demoHost    = "parent"
	demoSecret  = "demo-secret"
)

var demoMembers = []string{"sam", "riley"}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)
	if cfg.Store.Driver == config.DriverMemory {
		return errors.New("seeding the memory driver has no lasting effect; pick sqlite, postgres or redis")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := service.New(st.Store, service.Options{SessionTTL: cfg.Session.TTL})

	signup := svc.SignupCluster(ctx, demoCluster, demoHost, demoSecret)
	if signup.Kind == apperr.KindDuplicateIdentity {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}
	if err := signup.Err(); err != nil {
		return fmt.Errorf("creating demo cluster: %w", err)
	}

	login := svc.Login(ctx, session.LocalSlot, demoCluster, demoHost, demoSecret)
	if err := login.Err(); err != nil {
		return fmt.Errorf("logging in as demo host: %w", err)
	}
	host := login.Data
	defer svc.Logout(ctx, session.LocalSlot)

	start := time.Now().UTC().AddDate(0, 0, -14)
	for i, handle := range demoMembers {
		member := svc.ProvisionMember(ctx, host, handle, demoSecret)
		if err := member.Err(); err != nil {
			return fmt.Errorf("provisioning %q: %w", handle, err)
		}
		id := member.Data.ID

		history := []ledger.NewTransaction{
			{IdentityID: id, Amount: 200, Kind: ledger.Credit, Category: ledger.Allowance, Description: "monthly allowance", Timestamp: start},
			{IdentityID: id, Amount: 35.5, Kind: ledger.Debit, Category: ledger.Food, Description: "groceries", Timestamp: start.AddDate(0, 0, 2+i)},
			{IdentityID: id, Amount: 20, Kind: ledger.Debit, Category: ledger.Transport, Description: "bus pass", Timestamp: start.AddDate(0, 0, 5+i)},
			{IdentityID: id, Amount: 60, Kind: ledger.Debit, Category: ledger.Entertainment, Description: "concert", Timestamp: start.AddDate(0, 0, 9+i)},
		}
		for _, in := range history {
			if err := svc.RecordTransaction(ctx, host, in).Err(); err != nil {
				return fmt.Errorf("recording history for %q: %w", handle, err)
			}
		}

		if err := svc.SendMessage(ctx, host, message.Draft{ToID: id, Text: "Welcome to the family ledger, " + handle + "!"}).Err(); err != nil {
			return fmt.Errorf("welcoming %q: %w", handle, err)
		}
		slog.Info("seeded member", "handle", handle, "id", id)
	}

	// One open request so the host has something to arbitrate.
	memberLogin := svc.Login(ctx, "seed-"+demoMembers[0], demoCluster, demoMembers[0], demoSecret)
	if err := memberLogin.Err(); err != nil {
		return fmt.Errorf("logging in as %q: %w", demoMembers[0], err)
	}
	if err := svc.CreateRequest(ctx, memberLogin.Data, 45, "new football boots").Err(); err != nil {
		return fmt.Errorf("creating demo request: %w", err)
	}
	svc.Logout(ctx, "seed-"+demoMembers[0])

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Cluster:   %s\n", demoCluster)
	fmt.Printf("Host:      %s / %s\n", demoHost, demoSecret)
	fmt.Printf("Members:   %v (same secret)\n", demoMembers)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST -d '{\"cluster_id\":\"%s\",\"handle\":\"%s\",\"secret\":\"%s\"}' http://localhost:%d/api/v1/auth/login\n",
		demoCluster, demoHost, demoSecret, cfg.Server.Port)

	return nil
}
