package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show the stored credential state",
		Action: statusAction,
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	application, shutdownLogs, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer shutdownLogs()

	account := application.Account()
	if err := account.Hydrate(ctx); err != nil {
		return fmt.Errorf("loading stored credentials: %w", err)
	}

	status := account.Status(ctx)
	if !status.LoggedIn {
		fmt.Println("Not logged in. Run `inkgate login` first.")
		return nil
	}

	fmt.Printf("Logged in as %s (%s, %s)\n", status.Nickname, status.Lang, status.Country)
	if status.SessionExpired {
		fmt.Println("Session expired. Run `inkgate login` again.")
	}
	if !status.LastUpdated.IsZero() {
		fmt.Printf("Tokens last refreshed %s\n", status.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}
