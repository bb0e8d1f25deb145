package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Companion robot runtime with perception, dialogue, memory, and an expressive display",
		Long: strings.TrimSpace(`dotcompanion runs a desktop companion robot.

It fuses camera and microphone observations, greets known faces, holds
trigger-word conversations through a local language model, remembers past
exchanges, and mirrors its emotions on an animated display.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newRunCommand())
	root.AddCommand(newMemoryCommand())
	root.AddCommand(newFacesCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the companion (perception, conversation, display)",
		Long:  "Connect to the vision and speech sidecars, start the display, and run the conversation loop until 'quit' or Ctrl+C.",
		Example: strings.Join([]string{
			"  dotcompanion run",
			"  dotcompanion run --debug",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg, debug)
			defer logger.Sync()
			if debug {
				logger.DebugC("cli", "Debug logging enabled")
			}
			return runCompanion(commandContext(cmd), cfg)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newMemoryCommand() *cobra.Command {
	memoryRoot := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear conversation memory",
		Long:  "Inspect the short-term vector store and the long-term exchange ledger, or wipe both.",
	}

	memoryRoot.AddCommand(&cobra.Command{
		Use:     "stats",
		Short:   "Show memory sizes and the latest exchanges",
		Example: "  dotcompanion memory stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return memoryStats(commandContext(cmd), cmd.OutOrStdout(), cfg)
		},
	})

	memoryRoot.AddCommand(&cobra.Command{
		Use:     "reset",
		Short:   "Erase short-term and long-term memory",
		Example: "  dotcompanion memory reset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return memoryReset(commandContext(cmd), cmd.OutOrStdout(), cfg)
		},
	})

	return memoryRoot
}

func newFacesCommand() *cobra.Command {
	facesRoot := &cobra.Command{
		Use:   "faces",
		Short: "Manage registered face identities",
		Long:  "List or remove identities in the face database. New faces are registered by asking the companion during a conversation.",
	}

	facesRoot.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List registered identities",
		Example: "  dotcompanion faces list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return facesList(cmd.OutOrStdout(), cfg)
		},
	})

	facesRoot.AddCommand(&cobra.Command{
		Use:     "remove <name>",
		Short:   "Remove a registered identity",
		Example: "  dotcompanion faces remove Alice",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return facesRemove(cmd.OutOrStdout(), cfg, args[0])
		},
	})

	return facesRoot
}

func newConfigCommand() *cobra.Command {
	configRoot := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long:  "Write config.json with defaults to ~/.dotcompanion (or $DOTCOMPANION_CONFIG).",
		Example: strings.Join([]string{
			"  dotcompanion config init",
			"  dotcompanion config init --force",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configInit(cmd.OutOrStdout(), cmd.InOrStdin(), force)
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config without asking")
	configRoot.AddCommand(initCmd)

	return configRoot
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotcompanion version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
