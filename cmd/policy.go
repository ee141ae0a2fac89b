package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atparisi/revq/internal/escalation"
	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/output"
	"github.com/atparisi/revq/internal/store"
)

var (
	policyName          string
	policyMinAgreement  float64
	policyMinConfidence float64
	policyAutoPass      float64
	policyEscalate      float64
	policyActivate      bool
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage escalation policies",
	Long: `Manage the threshold policies that decide whether a consensus result
auto-passes, auto-fails, or escalates to human review. Policies are
insert-only; changing thresholds means adding a new policy and
activating it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyListRun()
	},
}

var policyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyListRun()
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show [policy-id]",
	Short: "Show a policy (the active one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) > 0 {
			id = args[0]
		}
		return policyShowRun(id)
	},
}

var policyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyAddRun()
	},
}

var policyActivateCmd = &cobra.Command{
	Use:   "activate <policy-id>",
	Short: "Make a policy the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return policyActivateRun(args[0])
	},
}

func init() {
	defaults := escalation.DefaultPolicy()
	policyAddCmd.Flags().StringVar(&policyName, "name", "", "Policy name (required)")
	policyAddCmd.Flags().Float64Var(&policyMinAgreement, "min-agreement", defaults.MinAgreementRatio, "Minimum agreement ratio before escalating")
	policyAddCmd.Flags().Float64Var(&policyMinConfidence, "min-confidence", defaults.MinConfidence, "Minimum mean confidence before escalating")
	policyAddCmd.Flags().Float64Var(&policyAutoPass, "auto-pass", defaults.AutoPassThreshold, "Combined score needed to auto-pass")
	policyAddCmd.Flags().Float64Var(&policyEscalate, "escalate", defaults.EscalateThreshold, "Lower bound of the review confidence band")
	policyAddCmd.Flags().BoolVar(&policyActivate, "activate", false, "Activate the policy after creating it")
	_ = policyAddCmd.MarkFlagRequired("name")

	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyAddCmd)
	policyCmd.AddCommand(policyActivateCmd)
	rootCmd.AddCommand(policyCmd)
}

func policyListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	policies, err := s.ListPolicies(ctx)
	if err != nil {
		return err
	}

	if len(policies) == 0 {
		ui.Info("No policies found. Defaults apply until one is added.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Min Agree", "Min Conf", "Auto Pass", "Escalate", "Active"})
	for _, p := range policies {
		active := ""
		if p.IsActive {
			active = output.Green("yes")
		}
		_ = table.Append([]string{
			shortID(p.ID),
			p.Name,
			fmt.Sprintf("%.2f", p.MinAgreementRatio),
			fmt.Sprintf("%.2f", p.MinConfidence),
			fmt.Sprintf("%.2f", p.AutoPassThreshold),
			fmt.Sprintf("%.2f", p.EscalateThreshold),
			active,
		})
	}
	_ = table.Render()
	return nil
}

func policyShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var p *models.EscalationPolicy
	if id != "" {
		p, err = s.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
	} else {
		p, err = s.GetActivePolicy(ctx)
		if errors.Is(err, store.ErrNotFound) {
			ui.Info("No active policy; built-in defaults apply.")
			p = escalation.DefaultPolicy()
		} else if err != nil {
			return err
		}
	}

	name := p.Name
	if name == "" {
		name = "(defaults)"
	}
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(p.ID)), name)
	fmt.Fprintf(ui.Out, "  Min agreement:   %.2f\n", p.MinAgreementRatio)
	fmt.Fprintf(ui.Out, "  Min confidence:  %.2f\n", p.MinConfidence)
	fmt.Fprintf(ui.Out, "  Auto pass:       %.2f\n", p.AutoPassThreshold)
	fmt.Fprintf(ui.Out, "  Escalate:        %.2f\n", p.EscalateThreshold)
	if p.IsActive {
		fmt.Fprintf(ui.Out, "  Active:          %s\n", output.Green("yes"))
	}
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(ui.Out, "  Created:         %s\n", p.CreatedAt.Format(time.RFC3339))
	}
	if p.ID != "" {
		fmt.Fprintf(ui.Out, "  Full ID:         %s\n", p.ID)
	}
	return nil
}

func policyAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p := &models.EscalationPolicy{
		Name:              policyName,
		MinAgreementRatio: policyMinAgreement,
		MinConfidence:     policyMinConfidence,
		AutoPassThreshold: policyAutoPass,
		EscalateThreshold: policyEscalate,
	}
	if err := escalation.ValidatePolicy(p); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would add policy %s", policyName)
		return nil
	}

	if err := s.CreatePolicy(ctx, p); err != nil {
		return fmt.Errorf("create policy: %w", err)
	}

	if policyActivate {
		if err := s.ActivatePolicy(ctx, p.ID); err != nil {
			return fmt.Errorf("activate policy: %w", err)
		}
		ui.Success("Created and activated policy %s: %s", output.Cyan(shortID(p.ID)), p.Name)
		return nil
	}

	ui.Success("Created policy %s: %s", output.Cyan(shortID(p.ID)), p.Name)
	return nil
}

func policyActivateRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would activate policy %s", id)
		return nil
	}

	if err := s.ActivatePolicy(ctx, id); err != nil {
		return err
	}

	ui.Success("Activated policy %s", output.Cyan(shortID(id)))
	return nil
}
