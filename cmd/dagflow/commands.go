package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/dagflow/docgen"
	"github.com/c360studio/dagflow/workflow"
)

// runCmd executes a workflow document against optional initial data.
func runCmd(configPath, logLevel *string) *cobra.Command {
	var (
		dataPairs []string
		dataFile  string
		register  []string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath, *logLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Stop()

			// Sub-workflow documents referenced by reference nodes.
			for _, path := range register {
				wf, err := loadWorkflowFile(path)
				if err != nil {
					return err
				}
				if err := app.Workflows.Register(wf, workflow.StatusActive); err != nil {
					return err
				}
			}

			wf, err := loadWorkflowFile(args[0])
			if err != nil {
				return err
			}

			initial, err := buildInitialData(dataPairs, dataFile)
			if err != nil {
				return err
			}

			result := app.Engine.Execute(ctx, wf, initial)

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !result.Success {
				return fmt.Errorf("workflow %q failed: %s", wf.ID, result.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&dataPairs, "data", "d", nil, "Initial context entry key=value (repeatable)")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "JSON file with initial context data")
	cmd.Flags().StringArrayVar(&register, "register", nil, "Additional workflow documents to register for reference nodes (repeatable)")
	return cmd
}

// validateCmd checks a workflow document without executing it.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Validate a workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("workflow %q is valid: %d nodes, %d edges\n", wf.ID, len(wf.Nodes), len(wf.Edges))
			return nil
		},
	}
}

// pluginsCmd lists registered plugins and emits their operator docs.
func pluginsCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect registered plugins",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath, *logLevel)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Stop()

			for _, id := range app.Plugins.List() {
				info, err := app.Plugins.Describe(id)
				if err != nil {
					continue
				}
				fmt.Printf("%-16s %-8s %s\n", info.PluginID, info.Version, info.Description)
			}
			return nil
		},
	})

	var outDir string
	docCmd := &cobra.Command{
		Use:   "doc",
		Short: "Emit configuration skeleton, JSON-Schema and Markdown reference per plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath, *logLevel)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Stop()

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			for _, id := range app.Plugins.List() {
				info, err := app.Plugins.Describe(id)
				if err != nil {
					continue
				}
				p, err := app.Plugins.Get(id)
				if err != nil {
					continue
				}
				specs := p.SupportedParameters()

				skeleton := docgen.YAMLSkeleton(info, specs)
				if err := os.WriteFile(filepath.Join(outDir, id+".yaml"), []byte(skeleton), 0o644); err != nil {
					return err
				}

				schema, err := json.MarshalIndent(docgen.JSONSchema(info, specs), "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Join(outDir, id+".schema.json"), schema, 0o644); err != nil {
					return err
				}

				page := docgen.Markdown(info, specs)
				if err := os.WriteFile(filepath.Join(outDir, id+".md"), []byte(page), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote docs for %s\n", id)
			}
			return nil
		},
	}
	docCmd.Flags().StringVarP(&outDir, "out", "o", "plugin-docs", "Output directory")
	cmd.AddCommand(docCmd)

	return cmd
}

func loadWorkflowFile(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow document: %w", err)
	}
	return workflow.LoadDocument(data)
}

func buildInitialData(pairs []string, file string) (map[string]any, error) {
	initial := make(map[string]any)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		if err := json.Unmarshal(data, &initial); err != nil {
			return nil, fmt.Errorf("parse data file: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("malformed --data entry %q, want key=value", pair)
		}
		// Try JSON first so numbers, booleans and objects survive;
		// fall back to the raw string.
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			initial[key] = decoded
		} else {
			initial[key] = value
		}
	}
	return initial, nil
}
