package studio

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jgwill/mcpservers/pkg/browser"
	"github.com/jgwill/mcpservers/pkg/config"
	"github.com/jgwill/mcpservers/pkg/locator"
	"github.com/jgwill/mcpservers/pkg/logging"
	"github.com/jgwill/mcpservers/pkg/metrics"
	"github.com/jgwill/mcpservers/pkg/probe"
	"github.com/jgwill/mcpservers/pkg/workflow"
)

// Semantic descriptors for the target UI. Each carries its fallback
// chain: accessible name first, then visible text, then a structural
// selector where one is stable.
var (
	descPromptBox = locator.Descriptor{
		Role: "textbox", Name: "Enter a prompt",
		Selector: `textarea[aria-label*="prompt" i]`,
	}
	descBuildButton = locator.Descriptor{Role: "button", Name: "Build"}
	descStopButton  = locator.Descriptor{
		Role: "button", Name: "Stop",
		Selector: `button[aria-label*="Stop"]`,
	}
	descAgreeButton = locator.Descriptor{Role: "button", Name: "Agree"}
	descGotItButton = locator.Descriptor{Role: "button", Name: "Got it"}
	descProjectName = locator.Descriptor{
		Selector: `input[aria-label*="name" i]`,
	}

	descSaveToGitHub = locator.Descriptor{Role: "button", Name: "Save to GitHub", Text: "Save to GitHub"}
	descRepoNameIn   = locator.Descriptor{
		Selector: `input[placeholder*="Repository name"]`,
		Anchor:   `[role="dialog"]`,
	}
	descRepoDescIn = locator.Descriptor{
		Selector: `textarea[placeholder*="description"]`,
		Anchor:   `[role="dialog"]`,
	}
	descPrivateOption = locator.Descriptor{Text: "Private"}
	descCreateRepo    = locator.Descriptor{Role: "button", Name: "Create Git repo", Text: "Create Git repo"}
	descCommitPrompt  = locator.Descriptor{Text: "Commit message"}
	// The commit dialog's textarea has no stable identity of its own;
	// the selector stays dialog-scoped so a page-level textarea (the
	// prompt box) can never shadow it.
	descCommitMessage = locator.Descriptor{
		Selector: `[role="dialog"] textarea`,
	}
	descStageCommit = locator.Descriptor{Role: "button", Name: "Stage and commit all changes", Text: "Stage and commit all changes"}

	descCloseDialog  = locator.Descriptor{Selector: `button[aria-label*="Close"]`}
	descDeployButton = locator.Descriptor{
		Role: "button", Name: "Deploy app",
		Selector: `button[aria-label="Deploy app"]`,
	}
	descTargetPicker = locator.Descriptor{Selector: `[role="combobox"]`}
	descRedeploy     = locator.Descriptor{Role: "button", Name: "Redeploy", Text: "Redeploy"}
)

// deployedURLPattern matches the production URL the deploy dialog
// renders as plain text once rollout finishes.
var deployedURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.run\.app/?`)

// runner binds one session and one resolved configuration for the
// duration of a run; spec builders hang off it so phase closures share
// both.
type runner struct {
	sess *browser.Session
	cfg  *config.Config
	log  *logging.Logger
}

// confirm runs the readiness probe for one operation class, honoring
// the per-attempt extended-wait hint. A timed-out probe becomes
// workflow.ErrConfirmTimeout so the executor reports phase timeout, not
// error.
func (r *runner) confirm(ctx context.Context, class string, pred probe.Predicate, opts workflow.RunOpts) error {
	profile, err := r.cfg.Class(class)
	if err != nil {
		return err
	}
	if opts.ExtendWait && !profile.IsFixedDelay() {
		profile = profile.Extended()
	}
	out, err := probe.Wait(ctx, pred, profile)
	if err != nil {
		return err
	}
	if out == probe.TimedOut {
		metrics.ObserveProberTimeout(class)
		return fmt.Errorf("%s probe exhausted %v at %s: %w", class, profile.MaxWait, r.sess.URL(), workflow.ErrConfirmTimeout)
	}
	return nil
}

// settle pauses for the network-settle class. No predicate, no loop.
func (r *runner) settle(ctx context.Context) error {
	return r.confirm(ctx, config.ClassNetworkSettle, nil, workflow.RunOpts{})
}

// visible returns a predicate reporting whether d currently resolves to
// a visible element.
func visible(sess *browser.Session, d locator.Descriptor) probe.Predicate {
	return func() bool {
		_, err := locator.Find(sess.Finder(), d)
		return err == nil
	}
}

// absent returns a predicate reporting the disappearance of d. Query
// failures count as absent: a torn-down page has no processing
// indicator either.
func absent(sess *browser.Session, d locator.Descriptor) probe.Predicate {
	return func() bool {
		_, err := locator.Find(sess.Finder(), d)
		return err != nil
	}
}

// clickIfPresent locates d and clicks it, treating absence as a no-op.
// Used for consent popups and other dialogs that may or may not be
// shown.
func (r *runner) clickIfPresent(d locator.Descriptor) error {
	el, err := locator.Find(r.sess.Finder(), d)
	if err != nil {
		return nil
	}
	return el.Click()
}

// find resolves d or fails the phase with the locator's not-found
// error.
func (r *runner) find(d locator.Descriptor) (locator.Element, error) {
	return locator.Find(r.sess.Finder(), d)
}

// openProjectPhase navigates to the project page and lets the network
// settle. Nearly every browser workflow starts here.
func (r *runner) openProjectPhase(url string) workflow.Phase {
	return workflow.Phase{
		Name: "open-project",
		Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
			if err := r.sess.Navigate(url); err != nil {
				return nil, err
			}
			if err := r.settle(ctx); err != nil {
				return nil, err
			}
			return map[string]string{"url": r.sess.URL()}, nil
		},
	}
}

// generationFinished reports completion of a remote implementation
// pass: the processing indicator is gone, or the page moved to its
// permanent project URL.
func (r *runner) generationFinished() probe.Predicate {
	stopGone := absent(r.sess, descStopButton)
	return func() bool {
		if strings.Contains(r.sess.URL(), "/apps/drive/") {
			return true
		}
		return stopGone()
	}
}

// awaitGenerationPhase waits out the generation operation class. A
// timeout here is a legitimate terminal outcome: the remote side may
// still finish, and the caller must verify externally.
func (r *runner) awaitGenerationPhase() workflow.Phase {
	return workflow.Phase{
		Name:          "await-generation",
		TimeoutPolicy: workflow.TimeoutTerminal,
		Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
			if err := r.confirm(ctx, config.ClassGeneration, r.generationFinished(), opts); err != nil {
				return map[string]string{"app_url": r.sess.URL()}, err
			}
			return map[string]string{"app_url": r.sess.URL()}, nil
		},
	}
}

func (r *runner) createProjectSpec(req Request) workflow.Spec {
	phases := []workflow.Phase{
		{
			Name: "open-studio",
			Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
				if err := r.sess.Navigate(r.cfg.BaseURL + "/apps"); err != nil {
					return nil, err
				}
				if err := r.settle(ctx); err != nil {
					return nil, err
				}
				// First visits interpose consent and feature popups.
				if err := r.clickIfPresent(descAgreeButton); err != nil {
					return nil, err
				}
				if err := r.clickIfPresent(descGotItButton); err != nil {
					return nil, err
				}
				return nil, nil
			},
		},
		{
			Name: "send-prompt",
			Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
				box, err := r.find(descPromptBox)
				if err != nil {
					return nil, err
				}
				if err := box.Fill(req.Prompt); err != nil {
					return nil, err
				}
				build, err := r.find(descBuildButton)
				if err != nil {
					return nil, err
				}
				if err := build.Click(); err != nil {
					return nil, err
				}
				// Dispatch confirmed once the page moves to the scratch
				// project or the processing indicator shows up.
				started := func() bool {
					if strings.Contains(r.sess.URL(), "/apps/temp/") {
						return true
					}
					return visible(r.sess, descStopButton)()
				}
				if err := r.confirm(ctx, config.ClassDialogRender, started, opts); err != nil {
					return nil, err
				}
				return map[string]string{"prompt_chars": fmt.Sprint(len(req.Prompt))}, nil
			},
		},
		r.awaitGenerationPhase(),
	}

	if req.ProjectName != "" {
		phases = append(phases, workflow.Phase{
			Name: "set-project-name",
			Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
				el, err := r.find(descProjectName)
				if err != nil {
					// Naming is cosmetic; the project exists either way.
					r.log.Warnf("project name field not found: %v", err)
					return map[string]string{"project_name": ""}, nil
				}
				if err := el.Fill(req.ProjectName); err != nil {
					return nil, err
				}
				return map[string]string{"project_name": req.ProjectName}, nil
			},
		})
	}

	return workflow.Spec{Name: WorkflowCreateProject, Phases: phases}
}

func (r *runner) connectGitHubSpec(req Request) workflow.Spec {
	return workflow.Spec{
		Name: WorkflowConnectGitHub,
		Phases: []workflow.Phase{
			r.openProjectPhase(req.TargetURL),
			{
				Name:          "open-github-panel",
				TimeoutPolicy: workflow.TimeoutRetryOnce,
				Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
					panelReady := visible(r.sess, descRepoNameIn)
					// Re-entry after a timed-out first attempt: skip the
					// click when the panel already rendered.
					if !panelReady() {
						btn, err := r.find(descSaveToGitHub)
						if err != nil {
							return nil, err
						}
						if err := btn.Click(); err != nil {
							return nil, err
						}
					}
					if err := r.confirm(ctx, config.ClassDialogRender, panelReady, opts); err != nil {
						return nil, err
					}
					return nil, nil
				},
			},
			{
				Name: "create-repo",
				Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
					nameIn, err := r.find(descRepoNameIn)
					if err != nil {
						return nil, err
					}
					if err := nameIn.Fill(req.RepoName); err != nil {
						return nil, err
					}
					if req.RepoDescription != "" {
						descIn, err := r.find(descRepoDescIn)
						if err != nil {
							return nil, err
						}
						if err := descIn.Fill(req.RepoDescription); err != nil {
							return nil, err
						}
					}
					// Private is the expected default; click the option
					// when the form renders it as a choice.
					if err := r.clickIfPresent(descPrivateOption); err != nil {
						return nil, err
					}
					create, err := r.find(descCreateRepo)
					if err != nil {
						return nil, err
					}
					if err := create.Click(); err != nil {
						return nil, err
					}
					// Repo exists once the commit prompt replaces the form.
					commitReady := visible(r.sess, descCommitPrompt)
					if err := r.confirm(ctx, config.ClassDialogRender, commitReady, opts); err != nil {
						return map[string]string{"repo_name": req.RepoName}, err
					}
					return map[string]string{"repo_name": req.RepoName}, nil
				},
			},
		},
	}
}

func (r *runner) commitSpec(req Request) workflow.Spec {
	return workflow.Spec{
		Name: WorkflowCommit,
		Phases: []workflow.Phase{
			r.openProjectPhase(req.TargetURL),
			{
				Name: "commit-changes",
				Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
					msgIn, err := r.find(descCommitMessage)
					if err != nil {
						return nil, err
					}
					if err := msgIn.Fill(req.CommitMessage); err != nil {
						return nil, err
					}
					commit, err := r.find(descStageCommit)
					if err != nil {
						return nil, err
					}
					if err := commit.Click(); err != nil {
						return nil, err
					}
					if err := r.settle(ctx); err != nil {
						return nil, err
					}
					return map[string]string{"commit_message": req.CommitMessage}, nil
				},
			},
		},
	}
}

func (r *runner) deploySpec(req Request) workflow.Spec {
	return workflow.Spec{
		Name: WorkflowDeploy,
		Phases: []workflow.Phase{
			r.openProjectPhase(req.TargetURL),
			{
				Name:          "open-deploy-dialog",
				TimeoutPolicy: workflow.TimeoutRetryOnce,
				Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
					// A leftover panel from a previous step eats the click.
					if err := r.clickIfPresent(descCloseDialog); err != nil {
						return nil, err
					}
					dialogReady := visible(r.sess, descTargetPicker)
					if !dialogReady() {
						deploy, err := r.find(descDeployButton)
						if err != nil {
							return nil, err
						}
						if err := deploy.Click(); err != nil {
							return nil, err
						}
					}
					if err := r.confirm(ctx, config.ClassDialogRender, dialogReady, opts); err != nil {
						return nil, err
					}
					return nil, nil
				},
			},
			{
				Name: "select-target",
				Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
					picker, err := r.find(descTargetPicker)
					if err != nil {
						return nil, err
					}
					if err := picker.Click(); err != nil {
						return nil, err
					}
					if err := r.settle(ctx); err != nil {
						return nil, err
					}
					option := locator.Descriptor{Text: req.DeployTarget}
					if err := r.clickIfPresent(option); err != nil {
						return nil, err
					}
					return map[string]string{"deploy_target": req.DeployTarget}, nil
				},
			},
			{
				Name:          "trigger-deploy",
				TimeoutPolicy: workflow.TimeoutTerminal,
				Run: func(ctx context.Context, opts workflow.RunOpts) (map[string]string, error) {
					trigger, err := r.find(descRedeploy)
					if err != nil {
						return nil, err
					}
					if err := trigger.Click(); err != nil {
						return nil, err
					}
					// Rollout is done when the production URL shows up in
					// the dialog text.
					deployed := func() bool {
						text, err := r.sess.BodyText()
						return err == nil && deployedURLPattern.MatchString(text)
					}
					if err := r.confirm(ctx, config.ClassGeneration, deployed, opts); err != nil {
						return nil, err
					}
					text, err := r.sess.BodyText()
					if err != nil {
						return nil, err
					}
					return map[string]string{
						"deploy_target": req.DeployTarget,
						"deployed_url":  deployedURLPattern.FindString(text),
					}, nil
				},
			},
		},
	}
}

// waitImplementationSpec is the standalone wait-for-generation
// workflow. Re-invoking it after completion returns completed again:
// the predicate is already true at the first evaluation and no UI
// action is dispatched.
func (r *runner) waitImplementationSpec(req Request) workflow.Spec {
	return workflow.Spec{
		Name: WorkflowWaitImplementation,
		Phases: []workflow.Phase{
			r.openProjectPhase(req.TargetURL),
			r.awaitGenerationPhase(),
		},
	}
}
