package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/rallypoint/rallypoint/internal/core"
	"github.com/rallypoint/rallypoint/internal/core/auth"
	"github.com/rallypoint/rallypoint/internal/core/data"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account management tools",
}

var accountAddCmd = &cobra.Command{
	Use:   "add [name] [password]",
	Short: "Registers new accounts in the database",
	Args:  cobra.MaximumNArgs(2),
	RunE:  AccountAddCommand,
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Deletes accounts from the database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  AccountDeleteCommand,
}

func openDB() (*gorm.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return data.Open(cfg)
}

func AccountAddCommand(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer data.Close(db)

	name, args := popArg(args, "Name")
	password, _ := popArg(args, "Password")

	service := auth.NewService(db, core.DiscardLogger())
	account, err := service.RegisterAccount(name, password)
	if err != nil {
		return fmt.Errorf("error creating account: %w", err)
	}
	fmt.Printf("created account for '%s' (ID: %d)\n", account.Username, account.ID)
	return nil
}

func AccountDeleteCommand(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer data.Close(db)

	name, _ := popArg(args, "Name")
	account, err := data.FindAccountByUsername(db, auth.SanitizeName(name))
	if err != nil {
		return fmt.Errorf("error looking up account: %w", err)
	} else if account == nil {
		return fmt.Errorf("no account named '%s'", name)
	}

	if err := data.DeleteAccount(db, account); err != nil {
		return fmt.Errorf("error deleting account: %w", err)
	}
	fmt.Println("deleted account")
	return nil
}

// popArg returns the next positional argument, prompting for it on stdin
// when none is left.
func popArg(args []string, prompt string) (string, []string) {
	if len(args) > 0 {
		return args[0], args[1:]
	}

	fmt.Printf("%s: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text(), args
}
