package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
)

func newPreprocessCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "preprocess <image>",
		Short: "Convert an image into a 100x100x3 tensor file (CBOR)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			preprocessor, err := preprocess.New(cfg.Preprocess.Interpolation)
			if err != nil {
				return err
			}

			img, format, err := preprocess.DecodeFile(args[0], cfg.Preprocess.MaxPixels)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			tensor, err := preprocessor.Preprocess(img)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			data, err := preprocess.EncodeCBOR(tensor)
			if err != nil {
				return err
			}

			target := strings.TrimSpace(outPath)
			if target == "" {
				target = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".cbor"
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("write tensor: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s %dx%d) -> %s (%d values)\n",
				args[0], format, img.Bounds().Dx(), img.Bounds().Dy(), target, len(tensor))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default: image path with .cbor extension)")

	return cmd
}
