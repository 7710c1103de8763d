package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/spf13/cobra"
)

func init() {
	for _, action := range []attendance.Action{attendance.ActionCheckIn, attendance.ActionCheckOut} {
		rootCmd.AddCommand(&cobra.Command{
			Use:   string(action),
			Short: fmt.Sprintf("Scan the camera and record %s for every recognized employee", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runScan(action)
			},
		})
	}
}

func runScan(action attendance.Action) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signalContext()
	defer stop()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			a.Attendance.Stop()
		}
	}()

	fmt.Printf("Look at the camera (%s), press Enter to finish early...\n", action)
	res, err := a.Attendance.MarkAttendance(ctx, action)
	if err != nil {
		return err
	}

	printScan(res)
	return nil
}

func printScan(res *attendance.ScanResult) {
	for _, o := range res.Outcomes {
		mark := "-"
		if o.Success() {
			mark = "✓"
		}
		fmt.Printf("  %s %s\n", mark, o.Message)
	}
	if len(res.Outcomes) == 0 {
		fmt.Println("No registered employee recognized.")
	}
	if res.UnknownCount > 0 {
		fmt.Printf("  %d unrecognized face detection(s)\n", res.UnknownCount)
	}
}
