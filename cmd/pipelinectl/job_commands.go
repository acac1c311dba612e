package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/service"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBackend(cmd.Context())
			if err != nil {
				return err
			}
			if err := b.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var owner, platform string

	cmd := &cobra.Command{
		Use:   "submit <url>...",
		Short: "Submit links for analysis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd.Context(), func(svc *service.JobService) error {
				job, err := svc.Submit(cmd.Context(), service.SubmitRequest{
					OwnerID:  owner,
					Platform: entity.Platform(strings.ToLower(platform)),
					URLs:     args,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", job.ID, job.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id the job is created for")
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform of the links (instagram, tiktok, youtube, twitter)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var diagnostic bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withJobs(cmd.Context(), func(svc *service.JobService) error {
				job, err := svc.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderFields(jobFields(job, diagnostic)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Include the operator diagnostic of a failed job")
	return cmd
}

func jobFields(job *entity.Job, diagnostic bool) [][2]string {
	fields := [][2]string{
		{"ID", job.ID.String()},
		{"Owner", job.OwnerID},
		{"Platform", string(job.Platform)},
		{"Status", string(job.Status)},
		{"Retries", fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
		{"URLs", strings.Join(job.URLs, "\n")},
	}
	if job.DisplayName != "" {
		fields = append(fields, [2]string{"Name", job.DisplayName})
	}
	if job.LastStage != nil {
		fields = append(fields, [2]string{"Last stage", string(*job.LastStage)})
	}
	if job.Error != nil {
		fields = append(fields,
			[2]string{"Error", fmt.Sprintf("%s: %s", job.Error.Category, job.Error.Message)},
			[2]string{"Hint", failure.ActionHint(failure.Category(job.Error.Category))},
		)
		if diagnostic && len(job.Error.Diagnostic) > 0 {
			fields = append(fields, [2]string{"Diagnostic", string(job.Error.Diagnostic)})
		}
	}
	fields = append(fields,
		[2]string{"Created", formatTime(job.CreatedAt)},
		[2]string{"Updated", formatTime(job.UpdatedAt)},
	)
	return fields
}

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	var since int64

	cmd := &cobra.Command{
		Use:   "ledger <job-id>",
		Short: "List the progress entries of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if since < 0 {
				return fmt.Errorf("--since must not be negative")
			}
			return ctx.withJobs(cmd.Context(), func(svc *service.JobService) error {
				p, err := svc.Progress(cmd.Context(), id, since)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(p.Entries) == 0 {
					fmt.Fprintf(out, "No entries after %d (job %s)\n", since, p.Status)
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Seq", "Attempt", "Stage", "%", "Message", "Error"},
					ledgerRows(p.Entries),
					[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
				))
				fmt.Fprintf(out, "Status %s, last seq %d\n", p.Status, p.LastSeq)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "Only show entries with a sequence number greater than this")
	return cmd
}

func ledgerRows(entries []entity.LedgerEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		errCol := ""
		if e.IsError {
			errCol = e.ErrorCode
			if e.Retryable {
				errCol += " (retryable)"
			}
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.Seq, 10),
			strconv.Itoa(e.Attempt),
			string(e.Stage),
			strconv.Itoa(e.Progress),
			e.Message,
			errCol,
		})
	}
	return rows
}

func newResourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resources <job-id>",
		Short: "List the resources collected for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withJobs(cmd.Context(), func(svc *service.JobService) error {
				resources, err := svc.Resources(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(resources) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No resources collected")
					return nil
				}
				rows := make([][]string, 0, len(resources))
				for _, r := range resources {
					rows = append(rows, []string{r.ID.String(), string(r.Platform), r.Username, r.URL, strconv.Itoa(len(r.Media))})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Platform", "Author", "URL", "Media"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newThreadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "thread <resource-id>",
		Short: "Print the conversation thread of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withJobs(cmd.Context(), func(svc *service.JobService) error {
				msgs, err := svc.Thread(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No messages")
					return nil
				}
				for _, m := range msgs {
					fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s:\n%s\n\n", m.Seq, m.Role, m.Content)
				}
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withJobs(cmd.Context(), func(svc *service.JobService) error {
				job, err := svc.Retry(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued for retry %d/%d\n", job.ID, job.RetryCount, job.MaxRetries)
				return nil
			})
		},
	}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
