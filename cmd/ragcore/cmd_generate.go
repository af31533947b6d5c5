package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ragcore/internal/config"
	"ragcore/internal/generation"
	"ragcore/internal/types"
)

var (
	generateSystem      string
	generateTemperature float64
	generateNoStream    bool
)

// generateCmd sends a raw prompt to the generation actor
var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Run a completion without history or retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or write the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
		return nil
	},
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if err := cfg.Validate(); err != nil {
		return types.ConfigurationError("generate", err)
	}
	gen := generation.Start(cfg.Generation)
	defer gen.Close()

	req := types.GenerateRequest{Prompt: joinArgs(args), SystemPrompt: generateSystem}
	if cmd.Flags().Changed("temperature") {
		req.Temperature = types.Float64(generateTemperature)
	}

	out := cmd.OutOrStdout()
	if generateNoStream {
		text, err := gen.Generate(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}

	sink := types.NewTokenSink(cfg.Orchestrator.TokenBuffer)
	defer sink.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- gen.StreamGenerate(ctx, req, sink) }()

	emit := func(tok types.Token) {
		if tok.Err != nil {
			logger.Sugar().Warnf("Skipping stream token: %v", tok.Err)
			return
		}
		fmt.Fprint(out, tok.Text)
	}
	for {
		select {
		case tok := <-sink.Tokens():
			emit(tok)
		case err := <-errCh:
			for {
				select {
				case tok := <-sink.Tokens():
					emit(tok)
				default:
					fmt.Fprintln(out)
					return err
				}
			}
		}
	}
}

func init() {
	generateCmd.Flags().StringVar(&generateSystem, "system", "", "System prompt")
	generateCmd.Flags().Float64VarP(&generateTemperature, "temperature", "t", 0.7, "Sampling temperature")
	generateCmd.Flags().BoolVar(&generateNoStream, "no-stream", false, "Wait for the full completion instead of streaming")

	configCmd.AddCommand(configShowCmd, configInitCmd, configValidateCmd)
}
