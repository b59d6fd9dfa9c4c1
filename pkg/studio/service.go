// Package studio defines the concrete workflows driven against the
// target web application: project creation, GitHub integration,
// deployment, and local retrieval. Each workflow is a named, ordered
// phase list executed by the orchestrator against one exclusively held
// browser session.
package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jgwill/mcpservers/pkg/browser"
	"github.com/jgwill/mcpservers/pkg/config"
	"github.com/jgwill/mcpservers/pkg/locator"
	"github.com/jgwill/mcpservers/pkg/logging"
	"github.com/jgwill/mcpservers/pkg/probe"
	"github.com/jgwill/mcpservers/pkg/workflow"
)

// ErrInvalidRequest marks parameter errors the caller can correct.
// Everything else returned before phases start is an internal failure.
var ErrInvalidRequest = errors.New("invalid request")

// Workflow names exposed to external callers.
const (
	WorkflowCreateProject      = "create-project"
	WorkflowConnectGitHub      = "connect-github"
	WorkflowCommit             = "commit"
	WorkflowDeploy             = "deploy"
	WorkflowCloneLocal         = "clone-local"
	WorkflowWaitImplementation = "wait-implementation"
)

// Workflows lists every runnable workflow name.
func Workflows() []string {
	return []string{
		WorkflowCreateProject,
		WorkflowConnectGitHub,
		WorkflowCommit,
		WorkflowDeploy,
		WorkflowCloneLocal,
		WorkflowWaitImplementation,
	}
}

// Request carries the typed parameters of one workflow invocation.
// Immutable once constructed.
type Request struct {
	Workflow string

	// TargetURL is the project page the workflow operates on.
	TargetURL string

	// Prompt and ProjectName feed project creation.
	Prompt      string
	ProjectName string

	// Repository parameters for GitHub integration.
	RepoName        string
	RepoDescription string
	RepoURL         string
	Branch          string

	CommitMessage string

	// DeployTarget is the cloud project identifier.
	DeployTarget string

	// LocalPath is the clone destination.
	LocalPath string

	// Timeouts overrides per-class wait budgets for this run only.
	// Keys are operation-class names; values must be positive.
	Timeouts map[string]time.Duration
}

// Service owns the browser session and executes workflows against it.
type Service struct {
	cfg    *config.Config
	log    *logging.Logger
	driver *browser.Driver
	orch   *workflow.Orchestrator

	mu      sync.Mutex
	session *browser.Session

	// cloneLock serializes local-clone runs, which use no browser
	// session but still report through the orchestrator.
	cloneLock workflow.MutexLocker
}

// NewService creates a workflow service. The driver may be
// uninitialized; it is initialized lazily on first browser use.
func NewService(cfg *config.Config, log *logging.Logger, driver *browser.Driver) *Service {
	if log == nil {
		log, _ = logging.NewLogger("studio")
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		driver: driver,
		orch:   workflow.NewOrchestrator(log),
	}
}

// Run executes the named workflow and returns its aggregate result.
//
// Errors returned here mean the run never started: unknown workflow,
// invalid parameters, workflow.ErrSessionBusy, or
// browser.ErrAuthenticationRequired. Once phases begin, every outcome
// is expressed through the Result.
func (s *Service) Run(ctx context.Context, req Request) (workflow.Result, error) {
	cfg, err := s.cfg.ApplyOverrides(req.Timeouts)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validate(req); err != nil {
		return workflow.Result{}, err
	}

	if req.Workflow == WorkflowCloneLocal {
		return s.orch.Run(ctx, &s.cloneLock, cloneSpec(req))
	}

	sess, err := s.ensureSession()
	if err != nil {
		return workflow.Result{}, err
	}

	r := &runner{sess: sess, cfg: cfg, log: s.log}
	var spec workflow.Spec
	switch req.Workflow {
	case WorkflowCreateProject:
		spec = r.createProjectSpec(req)
	case WorkflowConnectGitHub:
		spec = r.connectGitHubSpec(req)
	case WorkflowCommit:
		spec = r.commitSpec(req)
	case WorkflowDeploy:
		spec = r.deploySpec(req)
	case WorkflowWaitImplementation:
		spec = r.waitImplementationSpec(req)
	default:
		return workflow.Result{}, fmt.Errorf("%w: unknown workflow %q", ErrInvalidRequest, req.Workflow)
	}

	// Phases run under a context that also dies with the session, so
	// closing the session mid-run cancels any in-flight wait.
	runCtx, cancel := joinContext(ctx, sess.Context())
	defer cancel()
	return s.orch.Run(runCtx, sess, spec)
}

// validate checks the parameters a workflow cannot run without.
func validate(req Request) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: workflow %s requires %s", ErrInvalidRequest, req.Workflow, field)
	}
	switch req.Workflow {
	case WorkflowCreateProject:
		if req.Prompt == "" {
			return missing("prompt")
		}
	case WorkflowConnectGitHub:
		if req.TargetURL == "" {
			return missing("target_url")
		}
		if req.RepoName == "" {
			return missing("repo_name")
		}
	case WorkflowCommit:
		if req.TargetURL == "" {
			return missing("target_url")
		}
		if req.CommitMessage == "" {
			return missing("commit_message")
		}
	case WorkflowDeploy:
		if req.TargetURL == "" {
			return missing("target_url")
		}
		if req.DeployTarget == "" {
			return missing("deploy_target")
		}
	case WorkflowCloneLocal:
		if req.RepoURL == "" {
			return missing("repo_url")
		}
		if req.LocalPath == "" {
			return missing("local_path")
		}
	case WorkflowWaitImplementation:
		if req.TargetURL == "" {
			return missing("target_url")
		}
	}
	return nil
}

// ensureSession returns the reusable authenticated session, creating it
// on first use or after the previous one was closed. A missing
// storage-state file surfaces as browser.ErrAuthenticationRequired
// before any phase executes.
func (s *Service) ensureSession() (*browser.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.Alive() {
		return s.session, nil
	}

	if err := s.driver.Initialize(); err != nil {
		return nil, err
	}
	path, err := s.cfg.ResolveStorageStatePath()
	if err != nil {
		return nil, err
	}
	sess, err := s.driver.NewSession(browser.SessionOptions{
		StorageStatePath: path,
		RequireAuth:      true,
		Headless:         s.cfg.Headless,
	})
	if err != nil {
		return nil, err
	}
	s.session = sess
	return sess, nil
}

// Close releases the service's session, cancelling any in-flight run.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}

// Login runs the interactive human-in-the-loop authentication path: a
// headful browser opens on the apps page, the operator signs in, and
// once the post-login affordance appears the storage state is written
// exactly once.
func (s *Service) Login(ctx context.Context) error {
	path, err := s.cfg.ResolveStorageStatePath()
	if err != nil {
		return err
	}

	if err := s.driver.Initialize(); err != nil {
		return err
	}
	sess, err := s.driver.NewSession(browser.SessionOptions{
		StorageStatePath: path,
		RequireAuth:      false,
		Headless:         false,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Navigate(s.cfg.BaseURL + "/apps"); err != nil {
		return err
	}

	s.log.Infof("browser opened; complete the login manually")

	// The post-login apps page shows the new-project control. Give the
	// operator up to five minutes to finish signing in.
	loggedIn := locator.Descriptor{Role: "button", Name: "New"}
	profile := probe.Profile{
		InitialDelay: 5 * time.Second,
		PollInterval: 2 * time.Second,
		MaxWait:      5 * time.Minute,
	}
	out, err := probe.Wait(ctx, visible(sess, loggedIn), profile)
	if err != nil {
		return err
	}
	if out == probe.TimedOut {
		return fmt.Errorf("login was not completed in time: %w", browser.ErrAuthenticationRequired)
	}

	if err := sess.SaveStorageState(); err != nil {
		return err
	}
	s.log.Infof("authentication state saved to %s", path)
	return nil
}

// joinContext derives a context cancelled when either parent is done.
func joinContext(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
