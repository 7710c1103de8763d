package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/spf13/cobra"
)

// dlibModel is a model file published as a bz2 archive on dlib.net.
type dlibModel struct {
	Name string
	URL  string
}

var dlibModels = []dlibModel{
	{
		Name: "shape_predictor_5_face_landmarks.dat",
		URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
	},
	{
		Name: "dlib_face_recognition_resnet_model_v1.dat",
		URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
	},
	{
		Name: "mmod_human_face_detector.dat",
		URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the dlib face models",
	Long: `Download the dlib landmark, recognition and CNN detector models into
the configured model path, or into dir when given. Existing files are kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Recognition.ModelPath
		if len(args) > 0 {
			modelDir = args[0]
		}

		ctx, stop := signalContext()
		defer stop()

		client := &http.Client{Timeout: 10 * time.Minute}
		return downloadModels(ctx, client, modelDir, dlibModels)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func downloadModels(ctx context.Context, client *http.Client, modelDir string, models []dlibModel) error {
	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, model := range models {
		targetPath := filepath.Join(modelDir, model.Name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", model.Name)
			continue
		}

		logging.Infof("Downloading %s...", model.Name)
		if err := downloadAndExtract(ctx, client, model.URL, targetPath); err != nil {
			return fmt.Errorf("failed to download %s: %w", model.Name, err)
		}
		logging.Infof("Successfully downloaded %s", model.Name)
	}

	logging.Infof("All models downloaded successfully")
	return nil
}

// downloadAndExtract writes the decompressed body to a temporary file and
// renames it into place, so an interrupted download never leaves a
// truncated model behind.
func downloadAndExtract(ctx context.Context, client *http.Client, url, targetPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), ".download-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, bzip2.NewReader(resp.Body)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), targetPath)
}
