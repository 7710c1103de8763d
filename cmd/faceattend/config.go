package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Long: `Show the effective configuration after FACEATTEND_* overrides.

Configuration locations:
  System: /etc/faceattend/faceattend.yaml
  User:   ~/.config/faceattend/faceattend.yaml

Use --config to specify a custom config file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Device:          %s\n", cfg.Camera.Device)
	fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	fmt.Printf("  FFmpeg:          %s\n", cfg.Camera.FFmpegPath)
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Tolerance:       %.2f\n", cfg.Recognition.Tolerance)
	fmt.Printf("  Duplicate Tol.:  %.2f\n", cfg.Recognition.DuplicateTolerance)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Printf("  CNN Detector:    %t\n", cfg.Recognition.UseCNN)
	fmt.Println()
	fmt.Println("[Enrollment]")
	fmt.Printf("  Samples:         %d\n", cfg.Enrollment.Samples)
	fmt.Printf("  Screen Timeout:  %s\n", cfg.DuplicateTimeout())
	fmt.Printf("  Capture Timeout: %s\n", cfg.CaptureTimeout())
	fmt.Printf("  Max Attempts:    %d\n", cfg.Enrollment.MaxCaptureAttempts)
	fmt.Printf("  Auto Interval:   %s\n", cfg.CaptureInterval())
	fmt.Println()
	fmt.Println("[Attendance]")
	fmt.Printf("  Scan Timeout:    %s\n", cfg.ScanTimeout())
	fmt.Printf("  Stop On Stable:  %t (%d frames)\n", cfg.Attendance.StopOnStable, cfg.Attendance.StableFrames)
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Images Dir:      %s\n", cfg.Storage.ImagesDir)
	fmt.Printf("  Embeddings:      %s\n", cfg.Storage.EmbeddingsFile)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Println()
	fmt.Println("[Database]")
	fmt.Printf("  Driver:          %s\n", cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite" {
		fmt.Printf("  File:            %s\n", cfg.Database.DSN)
	}
	fmt.Println()
	fmt.Println("[Server]")
	fmt.Printf("  Listen:          %s\n", cfg.ListenAddr())
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		fmt.Println()
		return fmt.Errorf("configuration is invalid: %w", err)
	}
	return nil
}
