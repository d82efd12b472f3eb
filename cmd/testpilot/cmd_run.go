package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skeehn/testpilot/internal/githubapi"
	"github.com/skeehn/testpilot/internal/validation"
)

var (
	runCreateIssues bool
	runRepo         string
	runGitHubToken  string
	runSourceFile   string
)

var runCmd = &cobra.Command{
	Use:   "run [test_file.py]",
	Short: "Run an existing test file under pytest",
	Long: `Executes a test file with the configured Python interpreter and reports
the result. With --create-issues, a failing run is filed as a GitHub issue
against --repo, labeled for automated triage.`,
	Args: cobra.ExactArgs(1),
	RunE: runTests,
}

func init() {
	runCmd.Flags().BoolVar(&runCreateIssues, "create-issues", false, "file a GitHub issue when the run fails")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "GitHub repository as owner/name")
	runCmd.Flags().StringVar(&runGitHubToken, "github-token", "", "GitHub token override")
	runCmd.Flags().StringVar(&runSourceFile, "source", "", "source file referenced in the issue body")
}

func runTests(cmd *cobra.Command, args []string) error {
	testPath := args[0]
	if _, err := os.Stat(testPath); err != nil {
		return fmt.Errorf("test file %s not accessible: %w", testPath, err)
	}

	result := validation.RunPytest(cmd.Context(), cfg.PythonBinary, testPath, cfg.ExecutionTimeout())

	if result.Stdout != "" {
		fmt.Print(result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}

	if result.Succeeded {
		fmt.Println("Tests passed.")
		return nil
	}
	if result.TimedOut {
		fmt.Println("Test run timed out.")
	}

	if runCreateIssues {
		if err := fileFailureIssue(cmd, testPath, result); err != nil {
			// Reporting failures must not mask the test result.
			logger.Warn("failed to create issue", zap.Error(err))
			fmt.Fprintf(os.Stderr, "Warning: could not create issue: %v\n", err)
		}
	}

	return fmt.Errorf("tests failed with exit status %d", result.ExitStatus)
}

func fileFailureIssue(cmd *cobra.Command, testPath string, result validation.ExecutionResult) error {
	repo := runRepo
	if repo == "" {
		repo = cfg.GitHubRepo
	}
	if repo == "" {
		return fmt.Errorf("--repo or github_repo config is required")
	}
	token := runGitHubToken
	if token == "" {
		token = cfg.GitHubToken
	}

	trace := result.Stderr
	if trace == "" {
		trace = result.Stdout
	}
	source := runSourceFile
	if source == "" {
		source = strings.TrimPrefix(filepath.Base(testPath), "test_")
	}

	client := githubapi.NewClient(token)
	title := fmt.Sprintf("Automated tests failed: %s", filepath.Base(testPath))
	issue, err := client.CreateIssue(cmd.Context(), repo, title, githubapi.FailureIssueBody(source, testPath, trace))
	if err != nil {
		return err
	}
	fmt.Printf("Filed issue #%d: %s\n", issue.Number, issue.HTMLURL)
	return nil
}
