package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dukerupert/weeme/internal/billing"
	"github.com/dukerupert/weeme/internal/model"
)

func printAccount(w io.Writer, a model.Account) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"ID", a.ID})
	table.Append([]string{"Username", a.Username})
	table.Append([]string{"Email", a.Email})
	table.Append([]string{"Membership", string(a.Membership)})
	credits := strconv.Itoa(a.Credits)
	if !a.Membership.Metered() {
		credits += " (unlimited scans)"
	}
	table.Append([]string{"Credits", credits})
	table.Append([]string{"Created", a.CreatedAt.Local().Format("2006-01-02 15:04")})
	table.Render()
}

func (c *cli) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.sessions.Login(ctx, args[0], password); err != nil {
					return err
				}
				acct, err := a.account()
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create a Free account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.sessions.Register(ctx, args[0], email, password); err != nil {
					return err
				}
				acct, err := a.account()
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, at least 6 characters")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out; the account stays in the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.sessions.Logout(ctx); err != nil {
					return err
				}
				cmd.Println("signed out")
				return nil
			})
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.account()
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	}
}

func (c *cli) creditsCmd() *cobra.Command {
	var set, add int
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show or change the credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			setChanged := cmd.Flags().Changed("set")
			addChanged := cmd.Flags().Changed("add")
			if setChanged && addChanged {
				return errors.New("use either --set or --add")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.account(); err != nil {
					return err
				}
				var err error
				switch {
				case setChanged:
					err = a.sessions.UpdateCredits(ctx, set)
				case addChanged:
					err = a.sessions.AddCredits(ctx, add)
				}
				if err != nil {
					return err
				}
				acct, _ := a.sessions.Current()
				fmt.Fprintf(cmd.OutOrStdout(), "%s has %d credits\n", acct.Username, acct.Credits)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&set, "set", 0, "set the balance (negative values become 0)")
	cmd.Flags().IntVar(&add, "add", 0, "add to the balance; negative subtracts")
	return cmd
}

func (c *cli) upgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "upgrade <Free|Pro|Advanced>",
		Short:     "Change the membership tier",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"Free", "Pro", "Advanced"},
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := model.ParseTier(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.account(); err != nil {
					return err
				}
				if err := a.sessions.UpgradeMembership(ctx, tier); err != nil {
					return err
				}
				acct, _ := a.sessions.Current()
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	}
}

func (c *cli) packagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List what can be bought",
		Run: func(cmd *cobra.Command, args []string) {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Key", "Title", "Price", "Description"})
			for _, p := range billing.Packages() {
				table.Append([]string{p.Key, p.Title, p.Price, p.Description})
			}
			table.Render()
		},
	}
}

func (c *cli) buyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "buy <credits|pro|advanced>",
		Short:     "Simulate a purchase and apply it to the signed-in account",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"credits", "pro", "advanced"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				acct, err := a.billing.Purchase(ctx, args[0])
				if errors.Is(err, billing.ErrNotAuthenticated) {
					return errNotSignedIn
				}
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	}
}
