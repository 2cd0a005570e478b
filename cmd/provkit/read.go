package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/remiblancher/provkit/internal/audit"
	"github.com/remiblancher/provkit/pkg/toolkit"
)

var (
	readMime    string
	readSidecar string
	readOut     string
)

var readCmd = &cobra.Command{
	Use:   "read <asset>",
	Short: "Read the manifest store of an asset",
	Long: `Read and validate the C2PA manifest store of an asset and print it as JSON.

Validation problems are reported in "validation_status"; the command only
fails when no store can be read at all.

Examples:
  # Embedded manifest
  provkit read photo.jpg

  # Detached (sidecar) manifest
  provkit read photo.jpg --sidecar photo.c2pa

  # Write the JSON to a file
  provkit read photo.png --out store.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().StringVar(&readMime, "mime", "", "Asset MIME type (default: from file extension)")
	readCmd.Flags().StringVar(&readSidecar, "sidecar", "", "Detached manifest store file")
	readCmd.Flags().StringVarP(&readOut, "out", "o", "", "Output file (default: stdout)")
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	asset, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read asset: %w", err)
	}
	mime := assetMime(readMime, args[0])

	var store map[string]any
	if readSidecar != "" {
		manifest, err := os.ReadFile(readSidecar)
		if err != nil {
			return fmt.Errorf("failed to read sidecar: %w", err)
		}
		store, err = toolkit.GetManifestStoreFromManifestAndAsset(ctx, manifest, asset, mime)
	} else {
		store, err = toolkit.GetManifestStoreFromArrayBuffer(ctx, asset, mime)
	}

	active, _ := store["active_manifest"].(string)
	var remoteURL string
	var te *toolkit.Error
	if errors.As(err, &te) {
		remoteURL = te.URL
	}
	if aerr := audit.LogManifestRead(mime, asset, active, remoteURL, readSidecar != "", err); aerr != nil {
		return aerr
	}
	if err != nil {
		if remoteURL != "" {
			return fmt.Errorf("manifest is stored remotely at %s: %w", remoteURL, err)
		}
		return err
	}

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if readOut != "" {
		if err := os.WriteFile(readOut, data, 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Manifest store written to %s\n", readOut)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// assetMime returns the explicit MIME type or the file extension, which the
// engine normalizes.
func assetMime(explicit, path string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Ext(path)
}
