// Package cli implements incidentctl, the operator command line for the
// incident service. Every command opens the service through an Env so tests
// can swap the backend.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/app"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/config"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/logging"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/replay"
)

// #region env

// Env opens the wired service for a command.
type Env struct {
	Open func(ctx context.Context) (*app.App, error)
}

// DefaultEnv builds from the environment: INCIDENT_CONFIG, then env vars.
func DefaultEnv() *Env {
	return &Env{Open: func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogDev)
		if err != nil {
			return nil, err
		}
		return app.Build(ctx, cfg, logger)
	}}
}

func (e *Env) with(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := e.Open(ctx)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

// #endregion env

// #region root

// Root returns the incidentctl command tree.
func Root(env *Env) *cobra.Command {
	root := &cobra.Command{
		Use:           "incidentctl",
		Short:         "Operate the retail incident pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		IngestCmd(env),
		ResetCmd(env),
		CreateCmd(env),
		ListCmd(env),
		ShowCmd(env),
		DecideCmd(env),
		GraphCmd(env),
		ExportCmd(env),
		ReplayCmd(),
	)
	return root
}

// #endregion root

// #region policies

// IngestCmd adds a policy document to a store's knowledge base.
func IngestCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a policy document for a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeID, _ := cmd.Flags().GetString("store")
			source, _ := cmd.Flags().GetString("source")
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read policy: %w", err)
			}
			if strings.TrimSpace(string(text)) == "" {
				return fmt.Errorf("policy file %s is empty", args[0])
			}
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				meta := map[string]any{
					"store_id":    storeID,
					"source":      source,
					"file":        args[0],
					"recorded_at": time.Now().Unix(),
				}
				if !a.Retrieval.Ingest(ctx, storeID, string(text), meta) {
					return fmt.Errorf("ingest into %s failed", storeID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ingested %s for %s\n", ok("✓"), args[0], storeID)
				return nil
			})
		},
	}
	cmd.Flags().String("store", "", "store (tenant) id")
	cmd.Flags().String("source", "policy", "metadata source tag")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

// ResetCmd deletes every document of a store.
func ResetCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all policy documents of a store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storeID, _ := cmd.Flags().GetString("store")
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				if !a.Retrieval.DeleteTenantData(ctx, storeID) {
					return fmt.Errorf("reset %s failed", storeID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s cleared %s\n", ok("✓"), storeID)
				return nil
			})
		},
	}
	cmd.Flags().String("store", "", "store (tenant) id")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

// #endregion policies

// #region incidents

// CreateCmd runs a new incident from media files.
func CreateCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Run a new incident from image, audio or video files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := orchestrator.CreateRequest{}
			req.StoreID, _ = cmd.Flags().GetString("store")
			for flag, dst := range map[string]*[]byte{"image": &req.Image, "audio": &req.Audio, "video": &req.Video} {
				path, _ := cmd.Flags().GetString(flag)
				if path == "" {
					continue
				}
				b, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", flag, err)
				}
				*dst = b
			}
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Service.CreateIncident(ctx, req)
				if err != nil {
					return err
				}
				printIncident(cmd, st)
				return nil
			})
		},
	}
	cmd.Flags().String("store", "", "store id")
	cmd.Flags().String("image", "", "image file")
	cmd.Flags().String("audio", "", "audio file")
	cmd.Flags().String("video", "", "MJPEG video file")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

// ListCmd lists recent incidents.
func ListCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storeID, _ := cmd.Flags().GetString("store")
			limit, _ := cmd.Flags().GetInt("limit")
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Service.List(ctx, storeID, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No incidents found.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTORE\tPHASE\tTYPE\tSEVERITY\tUPDATED")
				for _, s := range items {
					sev := "-"
					if s.Severity != nil {
						sev = fmt.Sprint(*s.Severity)
					}
					typ := s.IncidentType
					if typ == "" {
						typ = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						s.IncidentID, s.StoreID, phase(s.Phase), typ, sev, s.UpdatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().String("store", "", "filter by store id")
	cmd.Flags().Int("limit", 20, "maximum rows")
	return cmd
}

// ShowCmd prints one incident and its decision log.
func ShowCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show [incident-id]",
		Short: "Show incident details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Service.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printIncident(cmd, st)
				entries, err := a.Service.Decisions(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) > 0 {
					fmt.Fprintln(out, "Log:")
				}
				for _, e := range entries {
					line := fmt.Sprintf("  %s %-9s", e.CreatedAt.Format(time.RFC3339), e.Event)
					if e.Node != "" {
						line += " node=" + e.Node
					}
					if e.Decision != "" {
						line += " decision=" + e.Decision
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

// DecideCmd resumes a suspended incident.
func DecideCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "decide [incident-id] [decision]",
		Short: "Submit a reviewer decision (approve, abort, force_escalation)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Service.SubmitDecision(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printIncident(cmd, st)
				return nil
			})
		},
	}
}

// GraphCmd prints the pipeline graph in DOT form.
func GraphCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the pipeline graph (DOT)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(a.Service.Graph().Source))
				return nil
			})
		},
	}
}

// #endregion incidents

// #region replay

// ExportCmd writes finished incidents as a replay fixture.
func ExportCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export finished incidents as a replay fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storeID, _ := cmd.Flags().GetString("store")
			limit, _ := cmd.Flags().GetInt("limit")
			outPath, _ := cmd.Flags().GetString("out")
			return env.with(cmd, func(ctx context.Context, a *app.App) error {
				f, err := replay.Export(ctx, a.Store, storeID, limit)
				if err != nil {
					return err
				}
				if err := replay.WriteFixture(f, outPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s exported %d cases to %s\n", ok("✓"), len(f.Cases), outPath)
				return nil
			})
		},
	}
	cmd.Flags().String("store", "", "filter by store id")
	cmd.Flags().Int("limit", 50, "most recent incidents to export")
	cmd.Flags().String("out", "", "fixture path")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// ReplayCmd replays a fixture offline and fails on any drift.
func ReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [fixture]",
		Short: "Replay a fixture and compare outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := replay.LoadFixture(args[0])
			if err != nil {
				return err
			}
			h, err := replay.NewHarness()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			results := h.Replay(cmd.Context(), f.Cases)
			for _, r := range results {
				switch {
				case r.Err != nil:
					fmt.Fprintf(out, "%s %s: %v\n", bad("ERROR"), r.IncidentID, r.Err)
				case r.Match():
					fmt.Fprintf(out, "%s %s %s\n", ok("MATCH"), r.IncidentID, r.Got.Phase)
				default:
					fmt.Fprintf(out, "%s %s\n%s", bad("DRIFT"), r.IncidentID, r.Diff)
				}
			}
			sum := replay.Summarize(results)
			fmt.Fprintf(out, "\n%d cases: %d matched, %d drifted, %d failed\n", sum.Total, sum.Matched, sum.Mismatched, sum.Failed)
			if sum.Matched != sum.Total {
				return fmt.Errorf("replay: %d of %d cases did not match", sum.Total-sum.Matched, sum.Total)
			}
			return nil
		},
	}
}

// #endregion replay

// #region output

func printIncident(cmd *cobra.Command, st *incident.State) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Incident: %s\n", st.IncidentID)
	fmt.Fprintf(out, "Store: %s\n", st.StoreID)
	fmt.Fprintf(out, "Phase: %s\n", phase(st.Phase()))
	if t := st.Type(); t != "" {
		fmt.Fprintf(out, "Type: %s (confidence %.2f)\n", t, st.Confidence)
	}
	if st.Severity != nil {
		fmt.Fprintf(out, "Severity: %d\n", *st.Severity)
	}
	if st.RiskScore != nil {
		fmt.Fprintf(out, "Risk: %.2f\n", *st.RiskScore)
	}
	if st.Cursor != "" {
		fmt.Fprintf(out, "Waiting at: %s\n", st.Cursor)
	}
	if d := st.Decision(); d != "" {
		fmt.Fprintf(out, "Decision: %s\n", d)
	}
	for i, p := range st.Plan {
		if i == 0 {
			fmt.Fprintln(out, "Plan:")
		}
		fmt.Fprintf(out, "  %d. %s\n", i+1, p)
	}
	for _, ch := range []incident.Channel{incident.ChannelAnnounce, incident.ChannelEmail, incident.ChannelCall} {
		r, found := st.ExecutionResults[ch]
		if !found {
			continue
		}
		status := r.Status
		if r.Status == incident.StatusFailed {
			status = bad(status)
		}
		line := fmt.Sprintf("  %-8s %s", ch, status)
		if r.To != "" {
			line += " to " + r.To
		}
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
	if st.Explanation != nil {
		fmt.Fprintf(out, "Explanation: %s\n", *st.Explanation)
	}
}

func phase(p string) string {
	switch p {
	case incident.PhaseCompleted:
		return ok(p)
	case incident.PhaseAwaitingDecision:
		return color.New(color.FgYellow).Sprint(p)
	default:
		return color.New(color.FgCyan).Sprint(p)
	}
}

func ok(s string) string  { return color.New(color.FgGreen).Sprint(s) }
func bad(s string) string { return color.New(color.FgRed).Sprint(s) }

// #endregion output
