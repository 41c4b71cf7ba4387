package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "link a Nintendo account interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "session-token",
				Usage: "adopt an existing session token instead of running the browser flow",
			},
		},
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	application, shutdownLogs, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer shutdownLogs()

	account := application.Account()
	if err := account.Hydrate(ctx); err != nil {
		return fmt.Errorf("loading stored credentials: %w", err)
	}

	sessionToken := cmd.String("session-token")
	if sessionToken == "" {
		sessionToken, err = runBrowserLogin(ctx, account)
		if err != nil {
			return err
		}
	}

	status, err := account.AdoptSessionToken(ctx, sessionToken)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Printf("Logged in as %s\n", status.Nickname)
	return nil
}

// runBrowserLogin walks the user through the Nintendo authorization page
// and returns the resulting session token.
func runBrowserLogin(ctx context.Context, account interface {
	BeginLogin(ctx context.Context) (string, string, error)
	CompleteLogin(ctx context.Context, callbackURL, verifier string) (string, error)
}) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("interactive login requires a terminal (use --session-token instead)")
	}

	authURL, verifier, err := account.BeginLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("preparing login: %w", err)
	}

	fmt.Println("Open this URL in your browser and sign in:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()
	fmt.Println("After signing in, right-click the red \"Select this account\" button,")
	fmt.Println("copy the link address, and paste it here.")
	fmt.Print("> ")

	reader := bufio.NewReader(os.Stdin)
	callbackURL, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading callback URL: %w", err)
	}
	callbackURL = strings.TrimSpace(callbackURL)
	if callbackURL == "" {
		return "", errors.New("no callback URL provided")
	}

	sessionToken, err := account.CompleteLogin(ctx, callbackURL, verifier)
	if err != nil {
		return "", fmt.Errorf("completing login: %w", err)
	}
	return sessionToken, nil
}
