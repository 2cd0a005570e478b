package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/provkit/internal/audit"
	"github.com/remiblancher/provkit/internal/config"
	"github.com/remiblancher/provkit/internal/keyvault"
	"github.com/remiblancher/provkit/pkg/toolkit"
)

var (
	signOut             string
	signMime            string
	signAlg             string
	signCert            string
	signKey             string
	signTSAURL          string
	signAssertions      []string
	signThumbnail       string
	signThumbnailFormat string
)

var signCmd = &cobra.Command{
	Use:   "sign <asset>",
	Short: "Embed a signed C2PA manifest into an asset",
	Long: `Build a manifest, sign its claim through the configured key vault and
embed it into the asset. An asset that already carries a manifest store
becomes the parent ingredient of the new manifest.

Assertions are given as label=<json> or label=@<file>. Values must be JSON
objects.

Flags override the signing section of the configuration file. --key selects
the software key vault.

Examples:
  # Local key, no timestamp
  provkit sign photo.jpg --out signed.jpg --cert chain.pem --key key.pem

  # Add assertions and a thumbnail, with a timestamp authority
  provkit sign photo.jpg --out signed.jpg --config provkit.yaml \
    --assertion 'c2pa.actions={"actions":[{"action":"c2pa.created"}]}' \
    --assertion org.example.meta=@meta.json \
    --thumbnail thumb.jpg --tsa-url http://timestamp.example/tsa`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVarP(&signOut, "out", "o", "", "Output file (required)")
	signCmd.Flags().StringVar(&signMime, "mime", "", "Asset MIME type (default: from file extension)")
	signCmd.Flags().StringVar(&signAlg, "alg", "", "Signing algorithm (overrides config)")
	signCmd.Flags().StringVar(&signCert, "cert", "", "Certificate chain file, leaf first (overrides config)")
	signCmd.Flags().StringVar(&signKey, "key", "", "Private key PEM file (software key vault)")
	signCmd.Flags().StringVar(&signTSAURL, "tsa-url", "", "RFC 3161 timestamp authority URL")
	signCmd.Flags().StringArrayVar(&signAssertions, "assertion", nil, "Assertion label=<json> or label=@<file> (repeatable)")
	signCmd.Flags().StringVar(&signThumbnail, "thumbnail", "", "Claim thumbnail image file")
	signCmd.Flags().StringVar(&signThumbnailFormat, "thumbnail-format", "", "Thumbnail MIME type (default: from file extension)")
	_ = signCmd.MarkFlagRequired("out")
}

func runSign(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg := *appConfig
	applySignFlags(&cfg.Signing)
	if err := cfg.ValidateSigning(); err != nil {
		return fmt.Errorf("invalid signing configuration: %w", err)
	}

	asset, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read asset: %w", err)
	}
	mime := assetMime(signMime, args[0])

	assertions, err := parseAssertions(signAssertions)
	if err != nil {
		return err
	}

	bundle, err := keyvault.FromConfig(ctx, &cfg.Signing)
	if err != nil {
		return fmt.Errorf("failed to open key vault: %w", err)
	}
	defer func() { _ = bundle.Close() }()

	info := &toolkit.SigningInfo{
		Alg:          bundle.Alg.String(),
		Certificates: bundle.Certificates,
		Assertions:   assertions,
		Callbacks:    bundle.Callbacks(),
	}
	if signThumbnail != "" {
		if info.Thumbnail, err = os.ReadFile(signThumbnail); err != nil {
			return fmt.Errorf("failed to read thumbnail: %w", err)
		}
		info.ThumbnailFormat = assetMime(signThumbnailFormat, signThumbnail)
	}

	out, err := toolkit.SignAssetBuffer(ctx, info, asset, mime)
	if aerr := audit.LogAssetSigned(mime, asset, info.Alg, len(assertions), err); aerr != nil {
		return aerr
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(signOut, out, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Asset signed\n")
	fmt.Fprintf(w, "  Input:      %s\n", args[0])
	fmt.Fprintf(w, "  Output:     %s (%d bytes)\n", signOut, len(out))
	fmt.Fprintf(w, "  Algorithm:  %s\n", info.Alg)
	fmt.Fprintf(w, "  Key:        %s\n", bundle.Vault.KeyID())
	fmt.Fprintf(w, "  Assertions: %d\n", len(assertions))
	if bundle.TSA != nil {
		fmt.Fprintf(w, "  TSA:        %s\n", bundle.TSA.URL())
	}
	return nil
}

func applySignFlags(sc *config.SigningConfig) {
	if signAlg != "" {
		sc.Alg = signAlg
	}
	if signCert != "" {
		sc.Certificates = signCert
	}
	if signKey != "" {
		sc.KeyVault.Type = config.VaultSoftware
		sc.KeyVault.Software.KeyFile = signKey
	}
	if signTSAURL != "" {
		sc.TSAURL = signTSAURL
	}
}

// parseAssertions turns label=<json> and label=@<file> arguments into
// assertions.
func parseAssertions(specs []string) ([]toolkit.Assertion, error) {
	assertions := make([]toolkit.Assertion, 0, len(specs))
	for _, spec := range specs {
		label, value, ok := strings.Cut(spec, "=")
		if !ok || label == "" {
			return nil, fmt.Errorf("invalid assertion %q: expected label=<json> or label=@<file>", spec)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read assertion %s: %w", label, err)
			}
			value = string(data)
		}
		assertions = append(assertions, toolkit.Assertion{Label: label, Value: value})
	}
	return assertions, nil
}
