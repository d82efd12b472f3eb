package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skeehn/testpilot/internal/githubapi"
)

var (
	issueRepo  string
	issueTitle string
	ghToken    string
)

var issueCmd = &cobra.Command{
	Use:   "issue [trace_file]",
	Short: "File a GitHub issue from a saved failure trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trace, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read trace: %w", err)
		}
		repo := issueRepo
		if repo == "" {
			repo = cfg.GitHubRepo
		}
		if repo == "" {
			return fmt.Errorf("--repo or github_repo config is required")
		}
		title := issueTitle
		if title == "" {
			title = fmt.Sprintf("Automated tests failed: %s", filepath.Base(args[0]))
		}

		client := githubapi.NewClient(resolveToken())
		issue, err := client.CreateIssue(cmd.Context(), repo, title, githubapi.FailureIssueBody("", args[0], string(trace)))
		if err != nil {
			return err
		}
		fmt.Printf("Filed issue #%d: %s\n", issue.Number, issue.HTMLURL)
		return nil
	},
}

var gistCmd = &cobra.Command{
	Use:   "gist [test_file.py]",
	Short: "Share a generated test file as a secret gist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		client := githubapi.NewClient(resolveToken())
		gist, err := client.CreateGist(cmd.Context(), filepath.Base(args[0]), string(content))
		if err != nil {
			return err
		}
		fmt.Printf("Created gist: %s\n", gist.HTMLURL)
		return nil
	},
}

func init() {
	issueCmd.Flags().StringVar(&issueRepo, "repo", "", "GitHub repository as owner/name")
	issueCmd.Flags().StringVar(&issueTitle, "title", "", "issue title")
	issueCmd.Flags().StringVar(&ghToken, "github-token", "", "GitHub token override")
	gistCmd.Flags().StringVar(&ghToken, "github-token", "", "GitHub token override")
}

func resolveToken() string {
	if ghToken != "" {
		return ghToken
	}
	return cfg.GitHubToken
}
