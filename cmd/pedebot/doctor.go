package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"pedebot/internal/config"
	"pedebot/internal/menu"
	"pedebot/internal/responder"
	"pedebot/internal/session"
	"pedebot/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup: config, database, AI endpoint, session credentials",
		RunE:  runDoctor,
	}
}

type doctorReport struct {
	passes int
	fails  int
	warns  int
}

func (r *doctorReport) pass(msg string) {
	r.passes++
	fmt.Printf("  ✓ %s\n", msg)
}

func (r *doctorReport) fail(msg string) {
	r.fails++
	fmt.Printf("  ✗ %s\n", msg)
}

func (r *doctorReport) warn(msg string) {
	r.warns++
	fmt.Printf("  ! %s\n", msg)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var r doctorReport

	fmt.Println("PedeBot doctor")
	fmt.Println()

	cfgPath := resolveConfigPath()
	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err != nil {
		r.warn(fmt.Sprintf("config file not found at %s (run 'pedebot init' to create one)", cfgPath))
		cfg = config.Defaults()
		config.ApplyEnv(cfg)
	} else {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			r.fail(fmt.Sprintf("config: %v", err))
			printSummary(&r)
			return fmt.Errorf("doctor found %d problem(s)", r.fails)
		}
		r.pass(fmt.Sprintf("config loaded from %s", cfgPath))
		cfg = loaded
	}

	// Database
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		r.fail(fmt.Sprintf("database: %v", err))
	} else {
		r.pass(fmt.Sprintf("database opened at %s", cfg.Store.DBPath))
		st.Close()
	}

	// Menu
	if cfg.AI.MenuPath != "" {
		if _, err := menu.Load(cfg.AI.MenuPath, logger); err != nil {
			r.fail(fmt.Sprintf("menu: %v", err))
		} else {
			r.pass(fmt.Sprintf("menu parsed from %s", cfg.AI.MenuPath))
		}
	}

	// AI endpoint
	if cfg.AI.APIKey == "" {
		r.warn("ai: no API key configured (set OPENROUTER_API_KEY); every reply will use the fallback text")
	} else {
		ai := responder.NewOpenRouter(cfg.AI, cfg.AI.SystemPrompt, logger)
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		err := ai.Healthy(ctx)
		cancel()
		if err != nil {
			r.fail(fmt.Sprintf("ai: %v", err))
		} else {
			r.pass("ai endpoint reachable")
		}
	}

	// Webhook verification
	if cfg.WhatsApp.VerifyToken == "" {
		r.warn("whatsapp: no verify token configured; webhook subscription handshakes will be rejected")
	} else {
		r.pass("webhook verify token configured")
	}

	// Session credentials
	creds := session.NewFileStore(cfg.WhatsApp.SessionDir, cfg.WhatsApp.SessionName)
	cred, err := creds.Load()
	switch {
	case err != nil:
		r.fail(fmt.Sprintf("session credentials: %v", err))
	case cred == nil:
		r.warn("session not paired yet; 'pedebot serve' will print a pairing code on first connect")
	case !cred.Valid():
		r.warn("stored session credentials are incomplete; re-pairing will be required")
	default:
		r.pass(fmt.Sprintf("session paired (client %s, paired %s)", cred.ClientID, cred.PairedAt.Format(time.RFC3339)))
	}

	printSummary(&r)

	if r.fails > 0 {
		return fmt.Errorf("doctor found %d problem(s)", r.fails)
	}
	return nil
}

func printSummary(r *doctorReport) {
	fmt.Println()
	fmt.Printf("%d passed, %d warning(s), %d failed\n", r.passes, r.warns, r.fails)
}
