package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	"github.com/GriffinCanCode/voicenote/internal/store"
)

func newContactsCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage the contacts directory used for enrichment",
	}
	cmd.AddCommand(newContactsAddCmd(load))
	cmd.AddCommand(newContactsListCmd(load))
	return cmd
}

func newContactsAddCmd(load configLoader) *cobra.Command {
	var c contacts.Contact

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if err := st.UpsertContact(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", c.FullName(), c.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&c.ID, "id", "", "contact id (generated if empty)")
	cmd.Flags().StringVar(&c.UserID, "user", "", "owning user id")
	cmd.Flags().StringVar(&c.FirstName, "first", "", "first name")
	cmd.Flags().StringVar(&c.LastName, "last", "", "last name")
	cmd.Flags().StringVar(&c.DisplayName, "display", "", "display name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newContactsListCmd(load configLoader) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.ListContacts(cmd.Context(), userID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\n", c.ID, c.FullName())
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
