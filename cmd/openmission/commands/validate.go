package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmission/openmission/pkg/missiondef"
	"github.com/openmission/openmission/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		environment string
		policyPaths []string
		skipPolicy  bool
	)

	cmd := &cobra.Command{
		Use:   "validate <mission-file>",
		Short: "Validate a mission definition",
		Long: `Validate a mission definition without running it.

This command checks:
  - YAML/CUE syntax and schema conformance
  - Trigger and instrument binding rules
  - Loop bounds and event-gate references
  - Policy compliance (Rego), evaluated as a dry run`,
		Example: `  # Validate a mission
  openmission validate mission.yaml

  # Validate against production policies
  openmission validate mission.yaml --env production --policy ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			missionPath := args[0]

			logger, err := newCommandLogger()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			loader := missiondef.NewLoader(missiondef.WithLogger(logger))
			def, err := loader.Load(missionPath)
			if err != nil {
				return err
			}

			var result *policy.Result
			if !skipPolicy {
				policyEngine, err := policy.NewEngine(logger)
				if err != nil {
					return fmt.Errorf("failed to create policy engine: %w", err)
				}
				if len(policyPaths) > 0 {
					if err := policyEngine.LoadPolicies(ctx, policyPaths); err != nil {
						return err
					}
				}
				result, err = policyEngine.EvaluateMission(ctx, def, &policy.EvalContext{
					Environment: environment,
					DryRun:      true,
				})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				report := map[string]interface{}{
					"mission":  def.Name,
					"version":  def.Version,
					"platform": def.PlatformID,
					"threads":  len(def.Threads),
					"valid":    result == nil || result.Allowed,
				}
				if result != nil {
					report["policy"] = result
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("mission %s@%s: %d thread(s), definition valid\n",
				def.Name, def.Version, len(def.Threads))
			if result != nil {
				printPolicyResult(result)
				if !result.Allowed {
					return fmt.Errorf("mission %s blocked by %d policy violation(s)",
						def.Name, len(result.Blocking()))
				}
				fmt.Printf("policy: %d policies evaluated, mission allowed\n",
					len(result.EvaluatedPolicies))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&environment, "env", "development", "deployment environment for policy evaluation")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy file or directory (repeatable)")
	cmd.Flags().BoolVar(&skipPolicy, "no-policy", false, "skip the policy gate, check the definition only")

	return cmd
}
