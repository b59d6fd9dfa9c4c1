package studio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jgwill/mcpservers/pkg/workflow"
)

// cloneTimeout bounds one git clone invocation.
const cloneTimeout = 60 * time.Second

// cloneArgs builds the git argument vector for a shallow single-branch
// clone.
func cloneArgs(repoURL, branch, localPath string) []string {
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	return append(args, repoURL, localPath)
}

// cloneSpec retrieves the repository to the local filesystem. No
// browser involvement; the single phase still reports through the
// standard result shape so callers see one contract everywhere.
func cloneSpec(req Request) workflow.Spec {
	return workflow.Spec{
		Name: WorkflowCloneLocal,
		Phases: []workflow.Phase{
			{
				Name: "clone-repo",
				Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
					if err := os.MkdirAll(filepath.Dir(req.LocalPath), 0750); err != nil {
						return nil, fmt.Errorf("failed to create clone parent: %w", err)
					}

					cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
					defer cancel()

					cmd := exec.CommandContext(cloneCtx, "git", cloneArgs(req.RepoURL, req.Branch, req.LocalPath)...)
					out, err := cmd.CombinedOutput()
					if err != nil {
						if cloneCtx.Err() == context.DeadlineExceeded {
							return nil, fmt.Errorf("git clone timed out after %v", cloneTimeout)
						}
						return nil, fmt.Errorf("git clone failed: %s", strings.TrimSpace(string(out)))
					}

					if _, err := os.Stat(filepath.Join(req.LocalPath, ".git")); err != nil {
						return nil, fmt.Errorf("clone succeeded but .git directory not found in %s", req.LocalPath)
					}

					payload := map[string]string{
						"repo_url":   req.RepoURL,
						"local_path": req.LocalPath,
					}
					if req.Branch != "" {
						payload["branch"] = req.Branch
					}
					return payload, nil
				},
			},
		},
	}
}
