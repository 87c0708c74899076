package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/celerix-dev/agricare/internal/config"
	"github.com/celerix-dev/agricare/internal/engine"
	"github.com/celerix-dev/agricare/internal/logger"
	"github.com/celerix-dev/agricare/internal/storage"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

const commandTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cfg, err := config.StoreFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	logs, err := logger.New(cfg.Development())
	if err != nil {
		log.Fatal(err)
	}
	defer logs.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := storage.Open(ctx, cfg, logs)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "PING":
		if _, err := store.Collections(ctx); err != nil {
			log.Fatal(err)
		}
		fmt.Println("PONG")

	case "COLLECTIONS":
		list, err := store.Collections(ctx)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(list)

	case "LIST":
		if len(args) < 1 || (len(args)-1)%3 != 0 {
			log.Fatal("Usage: agricare LIST <collection> [<field> <op> <value>]...")
		}
		filters := make([]sdk.Filter, 0, (len(args)-1)/3)
		for i := 1; i+2 < len(args); i += 3 {
			filters = append(filters, sdk.Where(args[i], sdk.Op(args[i+1]), parseValue(args[i+2])))
		}
		docs, err := store.List(ctx, args[0], filters...)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(docs)

	case "GET":
		if len(args) < 2 {
			log.Fatal("Usage: agricare GET <collection> <id>")
		}
		doc, err := store.Get(ctx, args[0], args[1])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(doc)

	case "PUT":
		if len(args) < 3 {
			log.Fatal("Usage: agricare PUT <collection> <id> <json>")
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(strings.Join(args[2:], " ")), &data); err != nil {
			log.Fatalf("Invalid JSON document: %v", err)
		}
		if err := store.InsertAt(ctx, args[0], args[1], data); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "DEL":
		if len(args) < 2 {
			log.Fatal("Usage: agricare DEL <collection> <id>")
		}
		if err := store.Remove(ctx, args[0], args[1]); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "EXPORT", "IMPORT":
		if len(args) < 1 {
			log.Fatalf("Usage: agricare %s <dir>", command)
		}
		local, err := engine.OpenDir(args[0])
		if err != nil {
			log.Fatalf("Failed to open %s: %v", args[0], err)
		}
		src, dst := store, sdk.DocumentStore(local)
		if command == "IMPORT" {
			src, dst = local, store
		}
		n, err := engine.Migrate(ctx, src, dst)
		if closeErr := local.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Copied %d documents\n", n)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

// parseValue reads a filter value as JSON, falling back to a plain string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func printUsage() {
	fmt.Println("AgriCare CLI - Interface for the agricare store daemon")
	fmt.Println("\nUsage:")
	fmt.Println("  agricare PING")
	fmt.Println("  agricare COLLECTIONS")
	fmt.Println("  agricare LIST <collection> [<field> <op> <value>]...")
	fmt.Println("  agricare GET <collection> <id>")
	fmt.Println("  agricare PUT <collection> <id> <json>")
	fmt.Println("  agricare DEL <collection> <id>")
	fmt.Println("  agricare EXPORT <dir>    copy every collection into JSON files")
	fmt.Println("  agricare IMPORT <dir>    load JSON files into the daemon")
	fmt.Println("\nOperators: == != < <= > >= in")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  AGRICARE_STORE_ADDR    Address of the store (default: localhost:7001)")
	fmt.Println("  AGRICARE_DISABLE_TLS   Set to true to disable TLS")
	fmt.Println("  AGRICARE_BACKEND       Local backend used when the daemon is unreachable")
	fmt.Println("  AGRICARE_DATA_DIR      Data directory of the memory backend (default: ./data)")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
