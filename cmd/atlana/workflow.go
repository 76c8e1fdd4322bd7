package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agdrone/atlana/pkg/store"
	"github.com/agdrone/atlana/pkg/types"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflow runs",
}

func init() {
	submitCmd.Flags().String("template", "", "ID of the workflow template to run (required)")
	submitCmd.Flags().String("params", "", "JSON file holding the caller parameters (required)")
	submitCmd.Flags().String("passcode", "", "Passcode for encrypted credentials in the parameters")
	_ = submitCmd.MarkFlagRequired("template")
	_ = submitCmd.MarkFlagRequired("params")

	workflowCmd.AddCommand(submitCmd)
	workflowCmd.AddCommand(listCmd)
	workflowCmd.AddCommand(statusCmd)
	workflowCmd.AddCommand(messagesCmd)
	workflowCmd.AddCommand(deleteCmd)
	workflowCmd.AddCommand(artifactCmd)

	rootCmd.AddCommand(workflowCmd)
}

// withStore opens the store for one command invocation
func withStore(fn func(s *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func loadParameters(path string) ([]types.Parameter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file %s: %w", path, err)
	}
	var parameters []types.Parameter
	if err := json.Unmarshal(raw, &parameters); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", path, err)
	}
	return parameters, nil
}

func printJSON(value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a workflow for execution",
	Long: `Submit a workflow: the named template's fields are bound from the
parameter file, the workflow directory is prepared, and the run is
started detached.

Examples:
  atlana workflow submit --template 0456a2ac701e4533a8d0bc7111af081d --params params.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		paramsFile, _ := cmd.Flags().GetString("params")
		passcode, _ := cmd.Flags().GetString("passcode")

		parameters, err := loadParameters(paramsFile)
		if err != nil {
			return err
		}

		return withStore(func(s *store.Store) error {
			template, err := s.FindTemplate(templateID)
			if err != nil {
				return err
			}
			result, err := s.Submit(template, parameters, passcode)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known workflows and their state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			recovered, err := s.Recover()
			if err != nil {
				return err
			}
			if len(recovered) == 0 {
				fmt.Println("No workflows found")
				return nil
			}

			fmt.Printf("%-34s %-24s %s\n", "ID", "WORKFLOW", "STATE")
			for _, workflow := range recovered {
				state := "not started"
				switch workflow.Status.Result {
				case types.StateRunning:
					state = "running"
				case types.StateFinished:
					state = "finished"
				}
				fmt.Printf("%-34s %-24s %s\n", workflow.ID, workflow.Workflow.Name, state)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show the current status of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			status, err := s.Status(args[0])
			if err != nil {
				return err
			}
			return printJSON(status)
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <workflow-id>",
	Short: "Show the accumulated output of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			messages, err := s.Messages(args[0])
			if err != nil {
				return err
			}
			return printJSON(messages)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <workflow-id>",
	Short: "Delete a finished workflow and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			if err := s.Delete(args[0]); err != nil {
				if errors.Is(err, store.ErrStillRunning) {
					return fmt.Errorf("workflow %s is still running; wait for it to finish", args[0])
				}
				return err
			}
			fmt.Printf("Workflow %s deleted\n", args[0])
			return nil
		})
	},
}

var artifactCmd = &cobra.Command{
	Use:   "artifact <workflow-id> <step-command> <artifact-name>",
	Short: "Print the path of a declared step artifact",
	Long: `Resolve the on-disk path of a step's declared result file.

Examples:
  atlana workflow artifact 0456a2... merge_csv "Canopy cover calculation file"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			path, err := s.Artifact(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		})
	},
}
