package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/enrollment"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name>",
	Short: "Enroll a new employee from camera samples",
	Long: `Enroll a new employee. The camera first checks that the face is not
already registered, then captures one sample per prompt. Samples are
taken automatically every capture interval, or immediately when Enter
is pressed.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signalContext()
	defer stop()

	a.Enrollment.OnPrompt(func(p enrollment.Progress) {
		fmt.Printf("[%d/%d] %s\n", p.Sample, p.Total, p.Prompt)
	})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			a.Shutter.Fire()
		}
	}()

	fmt.Printf("Starting enrollment for '%s'...\n", args[0])
	fmt.Println("Please ensure good lighting and face the camera.")
	fmt.Println()

	res, err := a.Enrollment.Enroll(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Enrolled '%s' (id %d) with %d samples in %s.\n",
		res.Employee, res.EmployeeID, res.Samples, res.Duration.Round(100*time.Millisecond))
	return nil
}
