package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuongbtq/ai-recruiter/internal/api/dto"
	"github.com/cuongbtq/ai-recruiter/internal/client"
)

var rootCmd = &cobra.Command{
	Use:   "recruiterctl",
	Short: "Command line client for the CV evaluation service",
	Long: `recruiterctl submits CV evaluations and follows them.
- submit uploads a CV and a job description and returns the job id.
- watch streams live progress until the evaluation finishes.
- get, list, cancel and report inspect or act on existing jobs.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RECRUITER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "API base URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(reportCmd())
}

func newClient() *client.Client {
	c := client.New(viper.GetString("server"))
	c.Timeout = viper.GetDuration("timeout")
	return c
}

func submitCmd() *cobra.Command {
	var userID, cvPath, jdPath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a CV and a job description for evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = viper.GetString("user-id")
			}
			if userID == "" || cvPath == "" || jdPath == "" {
				return fmt.Errorf("--user-id, --cv and --jd are required")
			}
			c := newClient()
			resp, err := c.Submit(cmd.Context(), userID, cvPath, jdPath)
			if err != nil {
				return err
			}
			if viper.GetBool("json") && !watch {
				return printJSON(resp)
			}
			fmt.Printf("submitted job %s (%s)\n", resp.JobID, resp.Status)
			if watch {
				return watchJob(cmd.Context(), c, resp.JobID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "owner of the job (env RECRUITER_USER_ID)")
	cmd.Flags().StringVar(&cvPath, "cv", "", "path to the CV (pdf, docx or txt)")
	cmd.Flags().StringVar(&jdPath, "jd", "", "path to the job description")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow progress after submitting")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(job)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendRows([]table.Row{
				{"Job", job.JobID},
				{"User", job.UserID},
				{"Status", job.Status},
				{"Progress", fmt.Sprintf("%d%%", job.Progress)},
				{"Stage", job.StageMessage},
				{"Decision", job.Decision},
				{"Report", job.ReportRef},
				{"Error", strings.TrimSpace(job.ErrorKind + " " + job.ErrorMessage)},
				{"Created", job.CreatedAt},
				{"Updated", job.UpdatedAt},
			})
			tw.Render()
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var opts client.ListOptions
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var jobs []dto.JobDTO
			next := ""
			for {
				page, err := c.ListJobs(cmd.Context(), opts)
				if err != nil {
					return err
				}
				jobs = append(jobs, page.Jobs...)
				next = page.NextCursor
				if !all || next == "" {
					break
				}
				opts.Cursor = next
			}

			if viper.GetBool("json") {
				return printJSON(dto.ListJobsResponse{Jobs: jobs, NextCursor: next})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "User", "Status", "Progress", "Decision", "Created"})
			for _, j := range jobs {
				tw.AppendRow(table.Row{j.JobID, j.UserID, j.Status, fmt.Sprintf("%d%%", j.Progress), j.Decision, j.CreatedAt})
			}
			tw.Render()
			if next != "" {
				fmt.Printf("more results: --cursor %s\n", next)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "owner filter")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 20, "jobs per page")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "continue after this cursor")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every page")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a job's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJob(cmd.Context(), newClient(), args[0])
		},
	}
}

func watchJob(ctx context.Context, c *client.Client, jobID string) error {
	asJSON := viper.GetBool("json")
	return c.Watch(ctx, jobID, func(msg dto.StreamMessage) error {
		if asJSON {
			return printJSON(msg)
		}
		switch msg.Type {
		case "COMPLETED":
			fmt.Printf("[%3d%%] %s: decision %s, report %s\n", msg.Progress, msg.Message, msg.Decision, msg.ReportRef)
		case "FAILED":
			fmt.Printf("[%3d%%] %s (%s)\n", msg.Progress, msg.Message, msg.ErrorKind)
		case dto.StreamTypeSuperseded:
			fmt.Println("another client took over this stream")
		case dto.StreamTypeHeartbeat:
		default:
			fmt.Printf("[%3d%%] %s\n", msg.Progress, msg.Message)
		}
		return nil
	})
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job that is still waiting for a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(job)
			}
			fmt.Printf("job %s is %s: %s\n", job.JobID, job.Status, job.ErrorMessage)
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report <job-id>",
		Short: "Download the evaluation report of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient().Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out != "" {
				return os.WriteFile(out, report, 0o644)
			}
			var v any
			if err := json.Unmarshal(report, &v); err != nil {
				_, err = os.Stdout.Write(report)
				return err
			}
			return printJSON(v)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the report to this file")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
