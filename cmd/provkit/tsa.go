package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/tsa"
)

var tsaCmd = &cobra.Command{
	Use:   "tsa",
	Short: "RFC 3161 timestamp request tools",
	Long: `Build and inspect the RFC 3161 messages provkit exchanges with a
timestamp authority.

Examples:
  # Build a request for a file and send it with curl
  provkit tsa request --alg es256 --data claim.cbor --out req.tsq
  curl -H 'Content-Type: application/timestamp-query' --data-binary @req.tsq \
    http://timestamp.example/tsa -o resp.tsr

  # Inspect either message
  provkit tsa inspect req.tsq
  provkit tsa inspect resp.tsr`,
}

var (
	tsaReqAlg    string
	tsaReqData   string
	tsaReqDigest string
	tsaReqOut    string
)

var tsaRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Build a DER TimeStampReq",
	Long: `Build a TimeStampReq for a file or a precomputed digest. The message
imprint uses the digest algorithm paired with --alg and the nonce is 8
random bytes read little-endian.`,
	Args: cobra.NoArgs,
	RunE: runTSARequest,
}

var tsaInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Decode a TimeStampReq or TimeStampResp",
	Args:  cobra.ExactArgs(1),
	RunE:  runTSAInspect,
}

func init() {
	tsaRequestCmd.Flags().StringVar(&tsaReqAlg, "alg", "es256", "Signing algorithm that selects the digest")
	tsaRequestCmd.Flags().StringVar(&tsaReqData, "data", "", "File to digest")
	tsaRequestCmd.Flags().StringVar(&tsaReqDigest, "digest", "", "Hex digest (instead of --data)")
	tsaRequestCmd.Flags().StringVarP(&tsaReqOut, "out", "o", "", "Output file (required)")
	_ = tsaRequestCmd.MarkFlagRequired("out")

	tsaCmd.AddCommand(tsaRequestCmd)
	tsaCmd.AddCommand(tsaInspectCmd)
}

func runTSARequest(cmd *cobra.Command, args []string) error {
	alg, err := pcrypto.ParseSigningAlgorithm(tsaReqAlg)
	if err != nil {
		return err
	}

	var digest []byte
	switch {
	case tsaReqData != "" && tsaReqDigest != "":
		return errors.New("--data and --digest are mutually exclusive")
	case tsaReqData != "":
		data, err := os.ReadFile(tsaReqData)
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
		if digest, err = alg.Digest().Sum(data); err != nil {
			return err
		}
	case tsaReqDigest != "":
		if digest, err = hex.DecodeString(tsaReqDigest); err != nil {
			return fmt.Errorf("invalid --digest: %w", err)
		}
	default:
		return errors.New("one of --data or --digest is required")
	}
	if len(digest) != alg.Digest().Size() {
		return fmt.Errorf("digest is %d bytes, %s needs %d", len(digest), alg.Digest(), alg.Digest().Size())
	}

	var random [tsa.NonceSize]byte
	if _, err := rand.Read(random[:]); err != nil {
		return err
	}
	der, err := tsa.BuildRequest(alg, digest, random)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tsaReqOut, der, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "TimeStampReq written to %s\n", tsaReqOut)
	fmt.Fprintf(w, "  Hash:   %s\n", alg.Digest())
	fmt.Fprintf(w, "  Digest: %x\n", digest)
	fmt.Fprintf(w, "  Nonce:  %s\n", tsa.NonceFromRandom(random))
	return nil
}

func runTSAInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	w := cmd.OutOrStdout()

	if req, reqErr := tsa.ParseRequest(data); reqErr == nil {
		digestAlg, _ := req.DigestAlgorithm()
		fmt.Fprintf(w, "TimeStampReq\n")
		fmt.Fprintf(w, "  Version:  %d\n", req.Version)
		fmt.Fprintf(w, "  Hash:     %s\n", digestAlg)
		fmt.Fprintf(w, "  Digest:   %x\n", req.MessageImprint.HashedMessage)
		if req.Nonce != nil {
			fmt.Fprintf(w, "  Nonce:    %s\n", req.Nonce)
		}
		fmt.Fprintf(w, "  CertReq:  %t\n", req.CertReq)
		return nil
	}

	resp, err := tsa.ParseResponse(data)
	if err != nil {
		return fmt.Errorf("not a TimeStampReq or TimeStampResp: %w", err)
	}
	fmt.Fprintf(w, "TimeStampResp\n")
	fmt.Fprintf(w, "  Status:   %s\n", resp.StatusString())
	if f := resp.FailureString(); f != "" {
		fmt.Fprintf(w, "  Failure:  %s\n", f)
	}
	if tok := resp.Token; tok != nil {
		digestAlg, _ := tok.DigestAlgorithm()
		fmt.Fprintf(w, "  Time:     %s\n", tok.GenTime().UTC().Format("2006-01-02T15:04:05Z"))
		fmt.Fprintf(w, "  Serial:   %s\n", tok.SerialNumber())
		fmt.Fprintf(w, "  Hash:     %s\n", digestAlg)
		fmt.Fprintf(w, "  Digest:   %x\n", tok.HashedMessage())
		if n := tok.Nonce(); n != nil {
			fmt.Fprintf(w, "  Nonce:    %s\n", n)
		}
		if issuer := tok.Issuer(); issuer != "" {
			fmt.Fprintf(w, "  Issuer:   %s\n", issuer)
		}
	}
	return nil
}
