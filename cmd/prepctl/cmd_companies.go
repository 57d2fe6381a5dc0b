package main

import (
	"fmt"
	"text/tabwriter"

	"preptracker/internal/client"

	"github.com/spf13/cobra"
)

var (
	companyPage     int
	companyPageSize int
	companyInput    client.CompanyInput
	companyLocation string
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Manage target companies",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		page, err := newClient().ListCompanies(ctx, companyPage, companyPageSize)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tROLE\tLOCATION")
		for _, c := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Role, deref(c.Location))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d total\n", page.Page, page.TotalPages, page.TotalCount)
		return nil
	},
}

var companiesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a company",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		in := companyInput
		if companyLocation != "" {
			in.Location = &companyLocation
		}
		company, err := newClient().CreateCompany(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created company %s\n", company.ID)
		return nil
	},
}

var companiesRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a company; its tasks are kept and unlinked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return newClient().DeleteCompany(ctx, args[0])
	},
}

func init() {
	companiesListCmd.Flags().IntVar(&companyPage, "page", 1, "page number")
	companiesListCmd.Flags().IntVar(&companyPageSize, "page-size", 10, "items per page (1-75)")

	companiesAddCmd.Flags().StringVar(&companyInput.Name, "name", "", "company name")
	companiesAddCmd.Flags().StringVar(&companyInput.Role, "role", "", "target role")
	companiesAddCmd.Flags().StringVar(&companyLocation, "location", "", "location")
	_ = companiesAddCmd.MarkFlagRequired("name")
	_ = companiesAddCmd.MarkFlagRequired("role")

	companiesCmd.AddCommand(companiesListCmd, companiesAddCmd, companiesRemoveCmd)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
