// Command tokengen mints a device token pair for one collaborator.
//
//	tokengen -device phone-1 -role app
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"voip-callkit/internal/auth"
	"voip-callkit/internal/config"
	"voip-callkit/internal/rbac"
	"voip-callkit/pkg/logger"
)

func main() {
	deviceID := flag.String("device", "", "device id the tokens are bound to")
	role := flag.String("role", rbac.RoleApp, "app, push_relay, call_ui or admin")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)

	if *deviceID == "" {
		log.Error("missing -device")
		os.Exit(2)
	}
	if !rbac.Known(*role) {
		log.Error("unknown role", "role", *role)
		os.Exit(2)
	}

	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	pair, err := m.IssuePair(time.Now(), *deviceID, *role)
	if err != nil {
		log.Error("issue tokens failed", "err", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]string{
		"device_id":     *deviceID,
		"role":          *role,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
