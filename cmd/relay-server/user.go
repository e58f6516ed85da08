package main

import (
    "bufio"
    "fmt"
    "strings"

    relay "github.com/SirGFM/go-relay-i-guess"
    "github.com/spf13/cobra"
)

func newUserCmd(cfgFile *string) *cobra.Command {
    cmd := &cobra.Command {
        Use: "user",
        Short: "Manage the users of a private relay",
    }

    cmd.AddCommand(newUserAddCmd(cfgFile))
    cmd.AddCommand(newUserListCmd(cfgFile))

    return cmd
}

// usersFromConfig load the configuration and open its user store.
func usersFromConfig(cfgFile string) (*Config, *relay.FileUserStore, error) {
    cfg, err := loadConfig(cfgFile)
    if err != nil {
        return nil, nil, err
    }
    if len(cfg.UsersDir) == 0 {
        return nil, nil, fmt.Errorf("users_dir isn't configured")
    }

    return cfg, relay.NewFileUserStore(cfg.UsersDir), nil
}

func newUserAddCmd(cfgFile *string) *cobra.Command {
    var password string
    var ip string
    var hostname string
    var force bool

    cmd := &cobra.Command {
        Use: "add <name>",
        Short: "Add a user, or reset an existing one with --force",
        Long: `Add a user to the users directory.

The password is read from the first line of stdin unless --password is
given. A fresh token is generated and printed.`,
        Args: cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            name := args[0]

            cfg, store, err := usersFromConfig(*cfgFile)
            if err != nil {
                return err
            }

            users, err := store.Load()
            if err != nil {
                return err
            }
            for _, u := range users {
                if u.User == name && !force {
                    return fmt.Errorf("user %q already exists", name)
                }
            }

            if len(password) == 0 {
                line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
                if err != nil && len(line) == 0 {
                    return fmt.Errorf("failed to read the password: %w", err)
                }
                password = strings.TrimRight(line, "\r\n")
            }
            if len(password) == 0 {
                return fmt.Errorf("password must not be empty")
            }

            hash, err := relay.BcryptHasher{Cost: cfg.BcryptCost}.Hash(password)
            if err != nil {
                return fmt.Errorf("failed to hash the password: %w", err)
            }
            token, err := relay.GenerateToken()
            if err != nil {
                return fmt.Errorf("failed to generate a token: %w", err)
            }

            err = store.Save(relay.UserConfig {
                User: name,
                Password: hash,
                Token: token,
                IP: ip,
                Hostname: hostname,
            })
            if err != nil {
                return err
            }

            fmt.Fprintf(cmd.OutOrStdout(), "User %s added, token: %s\n", name, token)
            return nil
        },
    }

    cmd.Flags().StringVar(&password, "password", "", "Password of the user (default: read from stdin)")
    cmd.Flags().StringVar(&ip, "ip", "", "Fixed origin address of the user's links")
    cmd.Flags().StringVar(&hostname, "hostname", "", "Fixed origin hostname of the user's links")
    cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing user")

    return cmd
}

func newUserListCmd(cfgFile *string) *cobra.Command {
    return &cobra.Command {
        Use: "list",
        Short: "List every configured user",
        Args: cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            _, store, err := usersFromConfig(*cfgFile)
            if err != nil {
                return err
            }

            users, err := store.Load()
            if err != nil {
                return err
            }

            out := cmd.OutOrStdout()
            for _, u := range users {
                hostname := u.Hostname
                if len(hostname) == 0 {
                    hostname = "-"
                }
                fmt.Fprintf(out, "%s\t%s\n", u.User, hostname)
            }
            return nil
        },
    }
}
