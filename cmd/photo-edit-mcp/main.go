package main

import (
	"fmt"
	"log"
	"os"

	"github.com/ironsheep/photo-edit-mcp/internal/config"
	"github.com/ironsheep/photo-edit-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func printHelp() {
	fmt.Println("photo-edit-mcp - MCP server for photo editing")
	fmt.Println()
	fmt.Println("Usage: photo-edit-mcp [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>  Load settings from a TOML file (reloaded on change)")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  PHOTO_EDIT_LOG_LEVEL=debug         Enable debug logging")
	fmt.Println("  PHOTO_EDIT_LIBRARY_DIR=<dir>       Photo library directory")
	fmt.Println("  PHOTO_EDIT_TOKEN_SECRET=<secret>   Enable token sign-in")
	fmt.Println("  PHOTO_EDIT_REQUIRE_SIGN_IN=false   Allow editing without an account")
	fmt.Println("  PHOTO_EDIT_VIEWPORT=800x600        Display viewport size")
	fmt.Println()
	fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
	fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
}

func main() {
	var configPath string

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--version", "-v", "version":
			fmt.Printf("photo-edit-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			printHelp()
			return
		case "--config", "-c":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a path")
				os.Exit(2)
			}
			i++
			configPath = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown option: %s\n", args[i])
			os.Exit(2)
		}
	}

	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	var opts server.Options
	if cfg.Debug() {
		log.Printf("Photo Edit MCP Server v%s (built %s, commit %s)", Version, BuildTime, GitCommit)
		opts.Logger = log.Default()
	}

	server.Version = Version
	srv, err := server.New(cfg, opts)
	if err != nil {
		log.Fatalf("Server setup error: %v", err)
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath, 0, srv.Reload, func(err error) {
			log.Printf("Config reload failed, keeping previous settings: %v", err)
		})
		if err != nil {
			log.Printf("Config watch disabled: %v", err)
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
