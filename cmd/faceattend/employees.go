package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled employees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		list, err := a.Employees.List(context.Background())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No employees enrolled.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tREGISTERED\tFACES")
		for _, e := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", e.ID, e.Name, e.RegisteredDate.Format("2006-01-02 15:04"), e.Faces)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nTotal: %d employee(s), %d face sample(s)\n", len(list), a.Employees.FaceCount())

		orphans, err := a.Employees.Orphans(context.Background())
		if err != nil {
			return err
		}
		for _, name := range orphans {
			fmt.Printf("Warning: embeddings for '%s' have no employee record\n", name)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an employee with their attendance, samples and embeddings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		emp, err := a.Employees.Delete(context.Background(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Employee '%s' has been removed.\n", emp.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(removeCmd)
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id: %q", s)
	}
	return uint(id), nil
}
