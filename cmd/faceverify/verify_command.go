package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/siamese-verify/internal/logging"
	"github.com/Brownie44l1/siamese-verify/internal/model"
	"github.com/Brownie44l1/siamese-verify/internal/preprocess"
	"github.com/Brownie44l1/siamese-verify/internal/verify"
)

var errNotVerified = errors.New("not verified")

type verifyResult struct {
	Input        string  `json:"input"`
	Verification string  `json:"verification"`
	Score        float32 `json:"score"`
	Threshold    float32 `json:"threshold"`
	Verified     bool    `json:"verified"`
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var inputPath string
	var verificationPath string
	var modelPath string
	var jsonOutput bool
	var exitCode bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Score an input photo against a verification photo",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(modelPath) != "" {
				cfg.Engine.ModelPath = modelPath
			}

			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			opLogger := logging.WithOperation(logger, "cli.verify", "")

			preprocessor, err := preprocess.New(cfg.Preprocess.Interpolation)
			if err != nil {
				return err
			}

			input, _, err := preprocess.DecodeFile(inputPath, cfg.Preprocess.MaxPixels)
			if err != nil {
				return fmt.Errorf("input image %s: %w", inputPath, err)
			}
			verification, _, err := preprocess.DecodeFile(verificationPath, cfg.Preprocess.MaxPixels)
			if err != nil {
				return fmt.Errorf("verification image %s: %w", verificationPath, err)
			}

			engine, err := model.Load(model.Options{
				Backend:      cfg.Engine.Backend,
				ModelPath:    cfg.Engine.ModelPath,
				MetadataPath: cfg.Engine.MetadataPath,
				LibraryPath:  cfg.Engine.LibraryPath,
				Threads:      cfg.Engine.Threads,
			})
			if err != nil {
				return logging.NewSubjectError("cli.load_model", cfg.Engine.ModelPath, err)
			}
			handle := verify.NewHandle(engine)
			defer func() {
				if err := handle.Close(); err != nil {
					opLogger.Warn("failed to close engine", zap.Error(err))
				}
			}()

			verdict, err := verify.NewVerifier(handle, preprocessor, logger).VerifyImages(input, verification)
			if err != nil {
				return logging.NewOperationError("cli.verify", "", err)
			}
			opLogger.Debug("verification complete", zap.Float32("score", verdict.Score))

			result := verifyResult{
				Input:        inputPath,
				Verification: verificationPath,
				Score:        verdict.Score,
				Threshold:    verify.Threshold,
				Verified:     verdict.Verified,
			}
			out := cmd.OutOrStdout()
			if jsonOutput || !isTerminal(out) {
				err = writeJSON(cmd, result)
			} else {
				_, err = fmt.Fprintln(out, renderVerdict(result))
			}
			if err != nil {
				return err
			}

			if exitCode && !verdict.Verified {
				return errNotVerified
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Reference photo")
	cmd.Flags().StringVarP(&verificationPath, "verification", "v", "", "Photo to verify against the reference")
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Model file (overrides engine.model_path)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "Exit with status 2 when the pair is not verified")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("verification")

	return cmd
}
