package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agdrone/atlana/pkg/store"
	"github.com/agdrone/atlana/pkg/types"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage workflow templates",
}

func init() {
	downloadCmd.Flags().String("template", "", "ID of the workflow template (required)")
	downloadCmd.Flags().String("params", "", "JSON file holding the caller parameters")
	downloadCmd.Flags().String("passcode", "", "Passcode used to encrypt credentials in the save file")
	downloadCmd.Flags().StringP("output", "o", "", "File to write instead of stdout")
	_ = downloadCmd.MarkFlagRequired("template")

	downloadAllCmd.Flags().StringP("output", "o", "", "File to write instead of stdout")

	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(downloadCmd)
	templateCmd.AddCommand(downloadAllCmd)
	templateCmd.AddCommand(uploadCmd)

	rootCmd.AddCommand(templateCmd)
}

func writeOutput(path string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(string(raw))
		return nil
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known workflow templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			fmt.Printf("%-34s %s\n", "ID", "NAME")
			for _, template := range s.Templates() {
				fmt.Printf("%-34s %s\n", template.ID, template.Name)
			}
			return nil
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Save one workflow with its parameters to a file",
	Long: `Produce a versioned save file for a workflow template and a set of
caller parameters. Credential blobs in the parameters are encrypted
under the passcode before they are written out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		paramsFile, _ := cmd.Flags().GetString("params")
		passcode, _ := cmd.Flags().GetString("passcode")
		output, _ := cmd.Flags().GetString("output")

		return withStore(func(s *store.Store) error {
			template, err := s.FindTemplate(templateID)
			if err != nil {
				return err
			}

			var parameters []types.Parameter
			if paramsFile != "" {
				if parameters, err = loadParameters(paramsFile); err != nil {
					return err
				}
			}

			save, err := s.Download(template, parameters, passcode)
			if err != nil {
				return err
			}
			return writeOutput(output, save)
		})
	},
}

var downloadAllCmd = &cobra.Command{
	Use:   "download-all",
	Short: "Save every workflow template to a definition file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return withStore(func(s *store.Store) error {
			return writeOutput(output, s.DownloadAll())
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Load templates from a saved definition file",
	Long: `Parse a previously downloaded save file. A definition file adds
every template it carries; a single-workflow save file adds the one
workflow it holds and prints its saved parameters. Every uploaded
template is assigned a fresh ID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		single, definitions, err := store.ParseUpload(raw)
		if err != nil {
			return err
		}
		if single != nil {
			definitions = []types.WorkflowTemplate{{
				Name:        single.Name,
				Description: single.Description,
				Steps:       single.Steps,
			}}
		}

		return withStore(func(s *store.Store) error {
			for _, template := range definitions {
				template.ID = ""
				added, err := s.AddTemplate(template)
				if err != nil {
					return err
				}
				fmt.Printf("Added template %s (%s)\n", added.Name, added.ID)
			}
			if single != nil && len(single.Parameters) > 0 {
				return printJSON(single.Parameters)
			}
			return nil
		})
	},
}
