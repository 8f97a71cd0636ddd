// ABOUTME: Entry point for the chatdesk realtime conversation server
// ABOUTME: Provides serve, token and health subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/chatdesk/internal/auth"
	"github.com/2389/chatdesk/internal/config"
	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/gateway"
	"github.com/2389/chatdesk/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _           _      _           _
   ___| |__   __ _| |_ __| | ___  ___| | __
  / __| '_ \ / _' | __/ _' |/ _ \/ __| |/ /
 | (__| | | | (_| | || (_| |  __/\__ \   <
  \___|_| |_|\__,_|\__\__,_|\___||___/_|\_\
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: chatdesk <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                                  Start the server")
	fmt.Fprintln(w, "  token --sub ID --role user|admin       Issue a participant token")
	fmt.Fprintln(w, "  health                                 Check server health")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts --config PATH (default: $CHATDESK_CONFIG or ./config.yaml).")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves and loads the config file.
func loadConfig(flagValue string) (*config.Config, string, error) {
	path := config.ResolvePath(flagValue)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting chatdesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// tokenArgs holds the parsed flags of the token command.
type tokenArgs struct {
	config string
	sub    string
	role   string
	name   string
	ttl    time.Duration
}

func parseTokenArgs(args []string) (*tokenArgs, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var ta tokenArgs
	fs.StringVar(&ta.config, "config", "", "path to config file")
	fs.StringVar(&ta.sub, "sub", "", "participant ID (customer ID for users)")
	fs.StringVar(&ta.role, "role", string(store.SenderUser), "user or admin")
	fs.StringVar(&ta.name, "name", "", "display name (defaults to --sub)")
	fs.DurationVar(&ta.ttl, "ttl", 24*time.Hour, "token lifetime")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	ta.sub = strings.TrimSpace(ta.sub)
	if ta.sub == "" {
		return nil, errors.New("--sub flag is required")
	}
	if !store.SenderType(ta.role).Valid() {
		return nil, fmt.Errorf("--role must be user or admin, got %q", ta.role)
	}
	if ta.ttl <= 0 {
		return nil, errors.New("--ttl must be positive")
	}
	return &ta, nil
}

// runToken issues a participant token signed with the configured secret.
// Intended for development; production tokens come from the identity provider.
func runToken(args []string, out io.Writer) error {
	ta, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(ta.config)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(conversation.Participant{
		ID:   ta.sub,
		Role: store.SenderType(ta.role),
		Name: ta.name,
	}, ta.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	return checkHealth(ctx, healthURL(cfg.Server.HTTPAddr))
}

// healthURL builds the health endpoint URL. A bare ":port" address is
// dialed on localhost.
func healthURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return fmt.Sprintf("http://%s/healthz", addr)
}

func checkHealth(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
