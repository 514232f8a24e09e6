package main

import (
	"fmt"

	"dployr/internal/dbcreds"
	"dployr/internal/security"

	"github.com/spf13/cobra"
)

var (
	dbType     string
	dbHost     string
	dbUser     string
	dbPassword string
	dbShow     bool
)

var dbcredsCmd = &cobra.Command{
	Use:   "dbcreds",
	Short: "Manage a user's .db-credentials file",
}

var dbcredsListCmd = &cobra.Command{
	Use:   "list <user>",
	Short: "List databases on file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBCredsList,
}

var dbcredsAddCmd = &cobra.Command{
	Use:   "add <user> <database>",
	Short: "Record credentials for a database",
	Long: `Append a credentials block for a database to the user's .db-credentials.

A random password is generated when --password is empty.`,
	Args: cobra.ExactArgs(2),
	RunE: runDBCredsAdd,
}

var dbcredsRemoveCmd = &cobra.Command{
	Use:   "remove <user> <database>",
	Short: "Remove a database's credentials block",
	Args:  cobra.ExactArgs(2),
	RunE:  runDBCredsRemove,
}

func init() {
	dbcredsAddCmd.Flags().StringVar(&dbType, "type", "mariadb", "Database type (mariadb, postgresql)")
	dbcredsAddCmd.Flags().StringVar(&dbHost, "host", "", "Database host (defaults to the type name)")
	dbcredsAddCmd.Flags().StringVar(&dbUser, "username", "", "Database user (defaults to <user>_<database>)")
	dbcredsAddCmd.Flags().StringVar(&dbPassword, "password", "", "Database password")
	dbcredsListCmd.Flags().BoolVar(&dbShow, "show-passwords", false, "Print passwords")

	dbcredsCmd.AddCommand(dbcredsListCmd)
	dbcredsCmd.AddCommand(dbcredsAddCmd)
	dbcredsCmd.AddCommand(dbcredsRemoveCmd)
}

func credentialStore() (*dbcreds.Store, error) {
	env, err := loadEnvironment(false)
	if err != nil {
		return nil, err
	}
	return dbcreds.NewStore(env.UsersPath), nil
}

func runDBCredsList(cmd *cobra.Command, args []string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}
	creds, err := store.List(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(creds) == 0 {
		fmt.Fprintln(out, "No databases on file.")
		return nil
	}

	var rows [][]string
	for _, c := range creds {
		password := "********"
		if dbShow {
			password = c.Password
		}
		rows = append(rows, []string{c.Name, string(c.Type), fmt.Sprintf("%s:%d", c.Host, c.Port), c.Username, password})
	}
	table, err := renderTable([]string{"Database", "Type", "Address", "User", "Password"}, rows)
	if err != nil {
		return err
	}
	fmt.Fprint(out, table)
	return nil
}

func runDBCredsAdd(cmd *cobra.Command, args []string) error {
	user, name := args[0], args[1]
	store, err := credentialStore()
	if err != nil {
		return err
	}

	typ := dbcreds.ParseType(dbType)
	cred := dbcreds.Credential{
		Name:     name,
		Type:     typ,
		Host:     dbHost,
		Username: dbUser,
		Password: dbPassword,
	}
	if cred.Host == "" {
		cred.Host = string(typ)
	}
	if cred.Username == "" {
		cred.Username = user + "_" + name
	}
	if cred.Password == "" {
		if cred.Password, err = security.GenerateSecret(); err != nil {
			return err
		}
	}

	if err := store.Append(user, cred); err != nil {
		return err
	}
	printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Recorded %s (%s) for %s", name, typ, user))
	return nil
}

func runDBCredsRemove(cmd *cobra.Command, args []string) error {
	store, err := credentialStore()
	if err != nil {
		return err
	}
	if err := store.Remove(args[0], args[1]); err != nil {
		return err
	}
	printSuccess(cmd.OutOrStdout(), fmt.Sprintf("Removed %s for %s", args[1], args[0]))
	return nil
}
