package main

import (
	"fmt"
	"os"
)

var version = "dev"

var (
	endpoint  string
	accessKey string
	secretKey string
)

func init() {
	endpoint = envOrDefault("TENANTGATE_ENDPOINT", "http://localhost:9700")
	accessKey = envOrDefault("TENANTGATE_ACCESS_KEY", "")
	secretKey = envOrDefault("TENANTGATE_SECRET_KEY", "")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Parse global flags before subcommand
	args := os.Args[1:]
	for len(args) > 0 && len(args[0]) > 0 && args[0][0] == '-' {
		switch args[0] {
		case "--endpoint":
			if len(args) < 2 {
				fatal("--endpoint requires a value")
			}
			endpoint = args[1]
			args = args[2:]
		case "--access-key":
			if len(args) < 2 {
				fatal("--access-key requires a value")
			}
			accessKey = args[1]
			args = args[2:]
		case "--secret-key":
			if len(args) < 2 {
				fatal("--secret-key requires a value")
			}
			secretKey = args[1]
			args = args[2:]
		case "--version", "-v":
			fmt.Printf("tenantgate-cli %s\n", version)
			os.Exit(0)
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		default:
			fatal("unknown flag: " + args[0])
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "mapping":
		runMapping(cmdArgs)
	case "role":
		runRole(cmdArgs)
	case "identity":
		runIdentity(cmdArgs)
	case "exchange":
		runExchange(cmdArgs)
	case "audit":
		runAudit(cmdArgs)
	case "version":
		fmt.Printf("tenantgate-cli %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: tenantgate-cli [flags] <command> <subcommand> [args]

Global Flags:
  --endpoint <url>     TenantGate endpoint (default: $TENANTGATE_ENDPOINT or http://localhost:9700)
  --access-key <key>   Admin access key (default: $TENANTGATE_ACCESS_KEY)
  --secret-key <key>   Admin secret key (default: $TENANTGATE_SECRET_KEY)
  --version, -v        Show version

Commands:
  mapping              Federation mapping operations (list, put, delete, apply, check)
  role                 Role operations (list, create, delete, show)
  identity             Identity operations (list, verify, delete)
  exchange             Exchange an identity token for scoped credentials
  audit                Show the audit trail
  version              Show version
  help                 Show this help`)
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	os.Exit(1)
}

func requireCreds() {
	if accessKey == "" || secretKey == "" {
		fatal("access key and secret key are required. Set TENANTGATE_ACCESS_KEY/TENANTGATE_SECRET_KEY or use --access-key/--secret-key")
	}
}
