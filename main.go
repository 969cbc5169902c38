// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🚀 go-shopsync - Offline Sync & Stock Reconciliation Library")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("go-shopsync processes offline records queued by disconnected point-of-sale")
	fmt.Println("devices, with bounded retries, backoff, per-session outcome tracking, and a")
	fmt.Println("ledger-driven stock reconciliation engine.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Shop Server Example (examples/shop_server/)")
	fmt.Println("   A complete sync server backed by PostgreSQL")
	fmt.Println("   Features: JWT auth, record processors, worker pool, reconciliation")
	fmt.Println("   Run: cd examples/shop_server && go run .")
	fmt.Println()

	fmt.Println("2. ⚙️  CLI (cmd/shopsync/)")
	fmt.Println("   serve, reconcile and session commands against a PostgreSQL store")
	fmt.Println("   Run: go run ./cmd/shopsync --help")
	fmt.Println()
}
