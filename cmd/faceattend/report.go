package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/store"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print attendance between two dates (inclusive)",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

var deleteRecordCmd = &cobra.Command{
	Use:   "delete-record <id>",
	Short: "Delete one attendance record",
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

		if err := a.Store.DeleteAttendanceRecord(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Attendance record %d deleted.\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(deleteRecordCmd)

	today := time.Now().Format(store.DateFormat)
	reportCmd.Flags().String("from", today, "First day (YYYY-MM-DD)")
	reportCmd.Flags().String("to", today, "Last day (YYYY-MM-DD)")
}

func runReport(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	for _, d := range []string{from, to} {
		if _, err := time.Parse(store.DateFormat, d); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
		}
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	records, err := a.Store.GetAttendanceBetweenDates(context.Background(), from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No attendance between %s and %s.\n", from, to)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tEMPLOYEE\tCHECK-IN\tCHECK-OUT")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Date, r.EmployeeName, clock(r.CheckIn), clock(r.CheckOut))
	}
	return w.Flush()
}

func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("15:04:05")
}
