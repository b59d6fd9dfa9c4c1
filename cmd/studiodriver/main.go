// Command studiodriver drives AI Studio project workflows from the
// terminal: interactive login, individual workflow runs, and an HTTP
// serve mode for programmatic callers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jgwill/mcpservers/pkg/browser"
	"github.com/jgwill/mcpservers/pkg/config"
	"github.com/jgwill/mcpservers/pkg/logging"
	"github.com/jgwill/mcpservers/pkg/server"
	"github.com/jgwill/mcpservers/pkg/studio"
	"github.com/jgwill/mcpservers/pkg/workflow"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "studiodriver",
		Short:         "Browser workflow automation for AI Studio projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().Bool("headless", false, "run the browser without a window (overrides config)")

	root.AddCommand(newLoginCmd(&configPath))
	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("headless"); f != nil && f.Changed {
		cfg.Headless, _ = cmd.Flags().GetBool("headless")
	}
	return cfg, nil
}

func newService(cmd *cobra.Command, configPath string) (*studio.Service, *logging.Logger, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, nil, err
	}
	log, _ := logging.NewLogger("studiodriver")
	driver := browser.NewDriver(log)
	return studio.NewService(cfg, log, driver), log, nil
}

func newLoginCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate interactively and persist the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, log, err := newService(cmd, *configPath)
			if err != nil {
				return err
			}
			defer log.Close()
			defer svc.Close()

			fmt.Println("A browser window will open. Complete the login manually.")
			if err := svc.Login(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Authentication state saved.")
			return nil
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		req      studio.Request
		timeouts map[string]string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:       "run <workflow>",
		Short:     "Run one workflow and print its result document",
		Long:      "Run one workflow and print its result document.\n\nWorkflows: " + fmt.Sprint(studio.Workflows()),
		Args:      cobra.ExactArgs(1),
		ValidArgs: studio.Workflows(),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Workflow = args[0]
			parsed, err := parseTimeoutFlags(timeouts)
			if err != nil {
				return err
			}
			req.Timeouts = parsed

			svc, log, err := newService(cmd, *configPath)
			if err != nil {
				return err
			}
			defer log.Close()
			defer svc.Close()

			result, err := svc.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			printResult(result, asJSON)
			if result.Status == workflow.StatusFailed {
				return fmt.Errorf("workflow %s failed", result.Workflow)
			}
			return nil
		},
	}

	var flags *pflag.FlagSet = cmd.Flags()
	flags.StringVar(&req.TargetURL, "url", "", "project page URL")
	flags.StringVar(&req.Prompt, "prompt", "", "generation prompt (create-project)")
	flags.StringVar(&req.ProjectName, "project-name", "", "project name (create-project)")
	flags.StringVar(&req.RepoName, "repo", "", "repository name (connect-github)")
	flags.StringVar(&req.RepoDescription, "repo-description", "", "repository description")
	flags.StringVar(&req.RepoURL, "repo-url", "", "repository URL (clone-local)")
	flags.StringVar(&req.Branch, "branch", "", "branch to clone")
	flags.StringVarP(&req.CommitMessage, "message", "m", "", "commit message")
	flags.StringVar(&req.DeployTarget, "deploy-target", "", "cloud project identifier (deploy)")
	flags.StringVar(&req.LocalPath, "path", "", "local clone destination")
	flags.StringToStringVar(&timeouts, "timeout", nil, "per-class max-wait override, e.g. generation=15m")
	flags.BoolVar(&asJSON, "json", false, "print the result document as JSON")
	return cmd
}

func parseTimeoutFlags(raw map[string]string) (map[string]time.Duration, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]time.Duration, len(raw))
	for class, v := range raw {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout %s=%s: %w", class, v, err)
		}
		out[class] = d
	}
	return out, nil
}

func printResult(result workflow.Result, asJSON bool) {
	doc := result.Fields()
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(doc)
		return
	}
	for _, k := range workflow.SortedKeys(doc) {
		fmt.Printf("%s=%s\n", k, doc[k])
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.ListenAddr
			}

			log, _ := logging.NewLogger("studiodriver")
			defer log.Close()
			driver := browser.NewDriver(log)
			svc := studio.NewService(cfg, log, driver)
			defer svc.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.NewRouter(server.Deps{Runner: svc, Logger: log, Version: version}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			fmt.Printf("listening on %s\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config listen_addr)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the studiodriver version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
