package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/vadim/neo-inbox/internal/app"
	"github.com/vadim/neo-inbox/internal/config"
)

const usage = `usage: inbox [serve | login -email <address> | logout]

  serve    run the local view API (default)
  login    sign in with an emailed code and store the session
  logout   forget the stored session`

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Create root context
	ctx := context.Background()

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	// Initialize application
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	switch cmd {
	case "serve":
		// Run application (blocks until shutdown)
		if err := application.Run(ctx); err != nil {
			log.Printf("application error: %v", err)
			os.Exit(1)
		}

	case "login":
		defer application.Close()
		if err := login(ctx, application, args); err != nil {
			log.Fatalf("login failed: %v", err)
		}

	case "logout":
		defer application.Close()
		if _, err := application.Sessions().Restore(ctx); err != nil {
			log.Fatalf("reading session: %v", err)
		}
		if err := application.Sessions().Logout(ctx); err != nil {
			log.Fatalf("logout failed: %v", err)
		}
		fmt.Println("logged out")

	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func login(ctx context.Context, application *app.App, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "operator email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("-email is required")
	}

	sessions := application.Sessions()
	challengeID, err := sessions.BeginLogin(ctx, *email)
	if err != nil {
		return err
	}

	fmt.Printf("a login code was sent to %s\ncode: ", *email)
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading code: %w", err)
	}

	user, err := sessions.CompleteLogin(ctx, challengeID, strings.TrimSpace(code))
	if err != nil {
		return err
	}

	fmt.Printf("logged in as %s\n", user.Email)
	return nil
}
