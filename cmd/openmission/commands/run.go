package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmission/openmission/pkg/engine"
	"github.com/openmission/openmission/pkg/missiondef"
	"github.com/openmission/openmission/pkg/policy"
	"github.com/openmission/openmission/pkg/stores"
	"github.com/openmission/openmission/pkg/telemetry"
	"github.com/openmission/openmission/pkg/transports/sshgw"
)

func newRunCommand() *cobra.Command {
	var (
		simulate        bool
		watch           bool
		force           bool
		environment     string
		operator        string
		policyPaths     []string
		waitUnit        time.Duration
		dispatchTimeout time.Duration
		metricsListen   string

		gatewayHost       string
		gatewayUser       string
		gatewayKey        string
		gatewayKnownHosts string
		gatewayInsecure   bool
	)

	cmd := &cobra.Command{
		Use:   "run <mission-file>",
		Short: "Execute a mission definition",
		Long: `Execute a mission definition against instruments.

This command:
  - Loads and validates the mission definition (YAML or CUE)
  - Evaluates the Rego policy gate; blocking violations stop the run
  - Connects to the instrument gateway (or a simulated client)
  - Starts one thread per definition entry and waits for completion
  - Archives the run, thread results, and events in the run archive

An interrupt cancels the run cooperatively: running threads abort
their current sequence and the run is archived as cancelled.`,
		Example: `  # Run against the gateway
  openmission run mission.yaml --gateway shore01.example.org --gateway-user ops

  # Simulated run with no instrument traffic
  openmission run mission.yaml --simulate

  # Restart the run whenever the definition file changes
  openmission run mission.yaml --simulate --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			missionPath := args[0]

			logger, err := newCommandLogger()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			loader := missiondef.NewLoader(
				missiondef.WithLogger(logger),
				missiondef.WithWaitUnit(waitUnit),
			)
			def, err := loader.Load(missionPath)
			if err != nil {
				return err
			}

			publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{
				Enabled:     true,
				BufferSize:  1000,
				EnableAsync: true,
			})
			if err != nil {
				return fmt.Errorf("failed to create event publisher: %w", err)
			}
			defer publisher.Shutdown(context.Background())

			// Policy gate. Blocking violations stop the run unless
			// forced; a forced run is still archived normally.
			policyEngine, err := policy.NewEngine(logger)
			if err != nil {
				return fmt.Errorf("failed to create policy engine: %w", err)
			}
			if len(policyPaths) > 0 {
				if err := policyEngine.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
			}
			result, err := policyEngine.EvaluateMission(ctx, def, &policy.EvalContext{
				Environment: environment,
				Operator:    operator,
				DryRun:      simulate,
			})
			if err != nil {
				return err
			}
			printPolicyResult(result)
			publishPolicyViolations(publisher, def.Name, result)
			if !result.Allowed {
				if !force {
					return fmt.Errorf("mission %s blocked by %d policy violation(s)",
						def.Name, len(result.Blocking()))
				}
				logger.Warnf("mission %s has blocking policy violations, running anyway (--force)", def.Name)
			}

			var client engine.InstrumentClient
			if simulate {
				client = &simulatedClient{logger: logger.NewComponentLogger("sim")}
			} else {
				gwConfig := sshgw.DefaultConfig(gatewayHost, gatewayUser)
				if gatewayKey != "" {
					gwConfig.PrivateKeyPath = gatewayKey
				}
				if gatewayKnownHosts != "" {
					gwConfig.KnownHostsPath = gatewayKnownHosts
				}
				if gatewayInsecure {
					gwConfig.StrictHostKeyChecking = false
				}
				gateway, err := sshgw.NewClient(gwConfig, logger)
				if err != nil {
					return err
				}
				if err := gateway.Connect(ctx); err != nil {
					return err
				}
				defer gateway.Close()
				client = gateway
			}

			var metrics *telemetry.Metrics
			if metricsListen != "" {
				metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{
					Enabled:       true,
					ListenAddress: metricsListen,
					Path:          "/metrics",
					Namespace:     "openmission",
				})
				if err != nil {
					return fmt.Errorf("failed to create metrics: %w", err)
				}
				if err := metrics.StartMetricsServer(); err != nil {
					return err
				}
			}

			store, err := openArchive(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			recorder := stores.NewRecorder(store, logger)
			recorder.Attach(publisher)

			// A definition change cancels the current run and starts a
			// fresh one from the new definition.
			reloadCh := make(chan *engine.MissionDefinition, 1)
			if watch {
				err := loader.Watch(ctx, missionPath, func(next *engine.MissionDefinition, loadErr error) {
					if loadErr != nil {
						logger.WithError(loadErr).Warn("mission definition changed and no longer resolves, keeping current run")
						return
					}
					select {
					case reloadCh <- next:
					default:
					}
				})
				if err != nil {
					return err
				}
			}

			engineConfig := engine.Config{
				Client:          client,
				DispatchTimeout: dispatchTimeout,
				Logger:          logger,
				Metrics:         metrics,
				Events:          publisher,
			}

			for {
				scheduler, err := engine.NewMissionScheduler(engineConfig)
				if err != nil {
					return fmt.Errorf("failed to create scheduler: %w", err)
				}
				if err := scheduler.Start(ctx, def); err != nil {
					return err
				}
				runID := scheduler.RunID()
				if err := recorder.RunStarted(ctx, runID, def, missionPath); err != nil {
					// The archive must not stop a mission that already started.
					logger.WithError(err).Warn("failed to archive run start")
				}

				var next *engine.MissionDefinition
				select {
				case <-scheduler.Done():
				case <-ctx.Done():
					logger.Info("cancelling mission")
					if err := scheduler.Stop(); err != nil {
						logger.WithError(err).Warn("mission did not stop cleanly")
					}
				case next = <-reloadCh:
					logger.Infof("mission definition changed, restarting as %s@%s", next.Name, next.Version)
					if err := scheduler.Stop(); err != nil {
						logger.WithError(err).Warn("mission did not stop cleanly")
					}
				}

				status := scheduler.FinalStatus()
				snapshots := scheduler.Status()
				archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := recorder.RunFinished(archiveCtx, runID, status, snapshots); err != nil {
					logger.WithError(err).Warn("failed to archive run result")
				}
				cancel()

				if next != nil {
					// The new definition passes the same gate as the
					// original one.
					result, err := policyEngine.EvaluateMission(ctx, next, &policy.EvalContext{
						Environment: environment,
						Operator:    operator,
						DryRun:      simulate,
					})
					if err != nil {
						return err
					}
					printPolicyResult(result)
					publishPolicyViolations(publisher, next.Name, result)
					if !result.Allowed && !force {
						return fmt.Errorf("reloaded mission %s blocked by %d policy violation(s)",
							next.Name, len(result.Blocking()))
					}
					def = next
					continue
				}

				switch status {
				case engine.RunStatusSucceeded:
					logger.Infof("mission %s completed (run %s)", def.Name, runID)
					return nil
				case engine.RunStatusCancelled:
					logger.Warnf("mission %s cancelled (run %s)", def.Name, runID)
					return nil
				default:
					return fmt.Errorf("mission %s %s (run %s)", def.Name, status, runID)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "use a simulated instrument client, no gateway traffic")
	cmd.Flags().BoolVar(&watch, "watch", false, "restart the run when the definition file changes")
	cmd.Flags().BoolVar(&force, "force", false, "run despite blocking policy violations")
	cmd.Flags().StringVar(&environment, "env", "development", "deployment environment for policy evaluation")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded with the run")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy file or directory (repeatable)")
	cmd.Flags().DurationVar(&waitUnit, "wait-unit", engine.DefaultWaitUnit, "duration of one wait() unit, shorten for simulated runs")
	cmd.Flags().DurationVar(&dispatchTimeout, "dispatch-timeout", engine.DefaultDispatchTimeout, "per-command dispatch timeout")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address (e.g. :9464)")

	cmd.Flags().StringVar(&gatewayHost, "gateway", "", "instrument gateway hostname")
	cmd.Flags().StringVar(&gatewayUser, "gateway-user", "", "instrument gateway SSH user")
	cmd.Flags().StringVar(&gatewayKey, "gateway-key", "", "private key for gateway authentication")
	cmd.Flags().StringVar(&gatewayKnownHosts, "gateway-known-hosts", "", "known_hosts file for gateway host verification")
	cmd.Flags().BoolVar(&gatewayInsecure, "gateway-insecure", false, "skip gateway host key verification")

	return cmd
}

// printPolicyResult reports violations and warnings to the operator.
func printPolicyResult(result *policy.Result) {
	for _, v := range result.Violations {
		prefix := "policy"
		if v.Severity.Blocks() {
			prefix = "POLICY VIOLATION"
		}
		if v.ThreadID != "" {
			fmt.Printf("%s [%s/%s] thread %s: %s\n", prefix, v.Policy, v.Severity, v.ThreadID, v.Message)
		} else {
			fmt.Printf("%s [%s/%s]: %s\n", prefix, v.Policy, v.Severity, v.Message)
		}
	}
	for _, w := range result.Warnings {
		fmt.Printf("policy warning: %s\n", w)
	}
}

// publishPolicyViolations mirrors the gate's findings onto the event
// stream so the recorder archives them alongside the run.
func publishPolicyViolations(publisher *telemetry.EventPublisher, mission string, result *policy.Result) {
	for _, v := range result.Violations {
		_ = publisher.PublishPolicyViolation(mission, v.Policy, v.Message)
	}
}

// simulatedClient accepts every command without touching a gateway.
// Used for dry runs and definition shakedowns.
type simulatedClient struct {
	logger *telemetry.Logger
}

func (c *simulatedClient) Send(ctx context.Context, instrumentID, verb string, args []string) error {
	if err := ctx.Err(); err != nil {
		return engine.NewTransientError("simulated dispatch cancelled", err).
			WithCode(engine.ErrCodeCancelled).WithInstrument(instrumentID)
	}
	if c.logger != nil {
		c.logger.WithInstrumentID(instrumentID).
			WithField("verb", verb).WithField("args", args).
			Info("simulated command accepted")
	}
	return nil
}
