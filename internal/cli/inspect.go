package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/meshconverge/internal/prereq"
	"github.com/turtacn/meshconverge/pkg/consts"
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the agent once and print the normalized status as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s := newStack(cfg, cfg.Agent.ManagementURL)
		h, _, err := s.detect(cmd.Context(), false)
		if err != nil {
			return err
		}
		snap := s.prober.Probe(cmd.Context(), h)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

var checkSetupKey, checkManagementURL string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the network, readiness and registration checks without registering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		credential, endpoint := convergeFlags{setupKey: checkSetupKey, managementURL: checkManagementURL}.credentials(cfg)
		s := newStack(cfg, endpoint, credential)
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		kind := apperrors.KindNone
		network := s.network.Check(ctx)
		renderNetwork(out, network)
		if !network.CriticalPass {
			kind = apperrors.KindNetworkError
		}

		h, _, err := s.detect(ctx, false)
		if err != nil {
			fmt.Fprintf(out, "\nAgent: %v\n", err)
			return &exitError{code: apperrors.ExitCode(err)}
		}
		checks := s.readiness.Evaluate(ctx, h)
		renderReadiness(out, checks)
		if kind == apperrors.KindNone && !checks.AllPassed() {
			kind = apperrors.KindDeadlineExceeded
		}

		report := s.validator.Validate(ctx, h, credential, endpoint, prereq.ValidateOptions{})
		renderPrereq(out, report)
		if kind == apperrors.KindNone {
			kind = report.Kind()
		}

		if kind != apperrors.KindNone {
			return &exitError{code: kind.ExitCode()}
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkSetupKey, "setup-key", "", "setup key to validate (default $"+consts.EnvSetupKey+")")
	checkCmd.Flags().StringVar(&checkManagementURL, "management-url", "", "management endpoint to probe")
}

func renderTable(w io.Writer, title string, header []string, rows [][]string) {
	fmt.Fprintf(w, "\n%s\n", title)
	table := tablewriter.NewWriter(w)
	headerAny := make([]any, len(header))
	for i, h := range header {
		headerAny[i] = h
	}
	table.Header(headerAny...)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

func renderNetwork(w io.Writer, r protocol.NetworkReport) {
	rows := make([][]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		rows = append(rows, []string{c.Name, criticality(c.Critical), strings.ToUpper(string(c.Outcome)), c.Detail})
	}
	renderTable(w, "Network", []string{"Check", "Severity", "Outcome", "Detail"}, rows)
}

func renderReadiness(w io.Writer, set protocol.ReadinessCheckSet) {
	rows := make([][]string, 0, len(set))
	for _, c := range set {
		rows = append(rows, []string{c.Name, passFail(c.Passed), c.Detail})
	}
	renderTable(w, "Agent readiness", []string{"Check", "Outcome", "Detail"}, rows)
}

func renderPrereq(w io.Writer, r protocol.PrereqReport) {
	rows := make([][]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		rows = append(rows, []string{c.Name, criticality(c.Critical), passFail(c.Passed), c.Detail})
	}
	renderTable(w, "Registration prerequisites", []string{"Check", "Severity", "Outcome", "Detail"}, rows)
}

func criticality(critical bool) string {
	if critical {
		return "critical"
	}
	return "advisory"
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// Personal.AI order the ending
