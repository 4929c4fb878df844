package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forllm/internal/banner"
	"forllm/internal/config"
	"forllm/internal/contextwindow"
	"forllm/internal/domain"
	"forllm/internal/scheduler"
	"forllm/internal/signals"
)

// ============================================================================
// serve
// ============================================================================

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker and the HTTP gateway (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := shutdownContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()
	_, color := out.(*os.File)
	banner.Startup(out, banner.Info{
		Version:  getVersion(),
		Store:    a.cfg.Database.Driver,
		Provider: a.cfg.Model.Provider,
		Model:    a.cfg.Model.Default,
	}, color)
	a.warnIfNoWindows(ctx, out)

	if a.loader.FileExists() {
		a.loader.Watch(a.logger.Named("config"), a.reload)
	}
	signals.OnReload(ctx, func() { a.loader.Reload(a.logger.Named("config"), a.reload) })

	srv, err := a.gateway()
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- a.worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			errs <- fmt.Errorf("gateway: %w", err)
			stop()
		}
	}()
	fmt.Fprintf(out, "  gateway :%d\n  ready.\n", a.cfg.Gateway.Port)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// enqueue / generate-persona
// ============================================================================

func newEnqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <post-id>",
		Short: "Queue a reply to a post, plus one reply per tagged persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := parseID(args[0])
			if err != nil {
				return err
			}
			model, _ := cmd.Flags().GetString("model")
			tagged, _ := cmd.Flags().GetInt64Slice("tag")
			var personaID *int64
			if cmd.Flags().Changed("persona") {
				id, _ := cmd.Flags().GetInt64("persona")
				personaID = &id
			}

			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			post, err := a.store.GetPost(cmd.Context(), postID)
			if err != nil {
				return fmt.Errorf("post %d: %w", postID, err)
			}
			if post.IsLLMResponse {
				return fmt.Errorf("post %d is an LLM response", postID)
			}
			ids, err := a.worker.EnqueueReply(cmd.Context(), postID, model, personaID, tagged)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "queued request %d\n", id)
			}
			return nil
		},
	}
	cmd.Flags().String("model", "", "model to answer with (default: selectedModel setting)")
	cmd.Flags().Int64("persona", 0, "persona id for the reply")
	cmd.Flags().Int64Slice("tag", nil, "tagged persona ids, each answering after the first reply")
	return cmd
}

func newGeneratePersonaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-persona",
		Short: "Queue a two-stage persona generation job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			var p domain.GeneratePersonaParams
			p.GenerationType = "from_name_and_description"
			p.InputDetails.NameHint, _ = f.GetString("name")
			p.InputDetails.DescriptionHint, _ = f.GetString("description")
			p.OutputPreferences.TonePreference, _ = f.GetString("tone")
			p.OutputPreferences.LengthPreference, _ = f.GetString("length")
			p.OutputPreferences.DesiredHeadings, _ = f.GetStringSlice("heading")
			p.TargetPersonaNameOverride, _ = f.GetString("name-override")
			p.ModelForGeneration, _ = f.GetString("model")
			if p.InputDetails.DescriptionHint == "" {
				return errors.New("--description is required")
			}
			raw, err := domain.EncodeParams(p)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, err := a.worker.Enqueue(cmd.Context(), &domain.LLMRequest{
				Type:   domain.RequestGeneratePersona,
				Model:  p.ModelForGeneration,
				Params: raw,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued request %d\n", id)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("description", "", "what the persona is like (required)")
	f.String("name", "", "name hint")
	f.String("tone", "", "tone preference")
	f.String("length", "", "length preference")
	f.StringSlice("heading", nil, "desired heading, repeatable")
	f.String("name-override", "", "store the persona under this name")
	f.String("model", "", "model to generate with")
	return cmd
}

// ============================================================================
// context-window
// ============================================================================

func newContextWindowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context-window <model>",
		Short: "Resolve and cache a model's context window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refresh, _ := cmd.Flags().GetBool("refresh")
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			model := args[0]
			if n, ok := a.windows.Resolve(cmd.Context(), model, refresh); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tokens\n", model, n)
				return nil
			}
			n, source := a.windows.ResolveWithFallback(cmd.Context(), model)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: unknown, prompts use %d tokens (%s default)\n", model, n, source)
			return fmt.Errorf("%s: %w", model, contextwindow.ErrUnknown)
		},
	}
	cmd.Flags().Bool("refresh", false, "ignore the cache and ask the model endpoint")
	return cmd
}

// ============================================================================
// schedule
// ============================================================================

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Show or add processing windows"}
	status := &cobra.Command{
		Use:   "status",
		Short: "List windows and say whether processing is allowed now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()
			policy := a.schedule.Snapshot(cmd.Context())
			for _, w := range policy.Windows() {
				state := "enabled"
				if !w.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "%d\t%s\t%s\n", w.ID, scheduler.Describe(w), state)
			}
			if !a.warnIfNoWindows(cmd.Context(), out) {
				return nil
			}
			now := time.Now()
			fmt.Fprintf(out, "active now: %v\n", policy.IsActive(now))
			if next, w, ok := policy.NextStart(now); ok {
				fmt.Fprintf(out, "next start: %s (%s)\n", next.Format(time.RFC1123), scheduler.Describe(w))
			}
			return nil
		},
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a processing window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			start, _ := f.GetInt("start")
			end, _ := f.GetInt("end")
			daysFlag, _ := f.GetString("days")
			disabled, _ := f.GetBool("disabled")
			days, err := scheduler.ParseDays(daysFlag)
			if err != nil {
				return err
			}
			w := domain.Schedule{StartHour: start, EndHour: end, Days: days, Enabled: !disabled}
			if err := scheduler.Validate(w); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, err := a.store.AddSchedule(cmd.Context(), w)
			if err != nil {
				return err
			}
			w.ID = id
			fmt.Fprintf(cmd.OutOrStdout(), "added window %d: %s\n", id, scheduler.Describe(w))
			return nil
		},
	}
	add.Flags().Int("start", 0, "start hour, 0-23")
	add.Flags().Int("end", 0, "end hour, 0-23 (0 means midnight)")
	add.Flags().String("days", scheduler.FormatDays(scheduler.AllDays), "active days, e.g. Mon,Wed,Fri")
	add.Flags().Bool("disabled", false, "store the window disabled")
	cmd.AddCommand(status, add)
	return cmd
}

// ============================================================================
// requests
// ============================================================================

func newRequestsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "requests", Short: "Inspect and repair queued jobs"}
	stuck := &cobra.Command{
		Use:   "stuck",
		Short: "List jobs left in processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			jobs, err := a.worker.StuckJobs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "no stuck jobs")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(out, "%d\t%s\trequested %s\n", j.ID, j.Type, j.RequestedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	requeue := &cobra.Command{
		Use:   "requeue <request-id>",
		Short: "Return a processing or failed job to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.store.RequeueRequest(cmd.Context(), id); err != nil {
				return err
			}
			a.logger.Info("job requeued by operator", zap.Int64("request_id", id))
			fmt.Fprintf(cmd.OutOrStdout(), "request %d is pending\n", id)
			return nil
		},
	}
	show := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Print a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			req, err := a.store.GetRequest(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("request %d: %w", id, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(req)
		},
	}
	cmd.AddCommand(stuck, requeue, show)
	return cmd
}

// ============================================================================
// post
// ============================================================================

func newPostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <content>",
		Short: "Add a user post, for trying the pipeline locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			topic, _ := f.GetInt64("topic")
			user, _ := f.GetInt64("user")
			attach, _ := f.GetStringSlice("attach")
			p := &domain.Post{TopicID: topic, UserID: user, Content: args[0]}
			if f.Changed("parent") {
				parent, _ := f.GetInt64("parent")
				p.ParentPostID = &parent
			}

			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			id, err := a.store.CreatePost(cmd.Context(), p)
			if err != nil {
				return err
			}
			for _, path := range attach {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("attach %s: %w", path, err)
				}
				name := filepath.Base(path)
				if _, err := a.store.AddAttachment(cmd.Context(), &domain.Attachment{
					PostID:   id,
					Filename: name,
					MimeType: mime.TypeByExtension(filepath.Ext(name)),
					Content:  string(data),
				}); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created post %d\n", id)
			return nil
		},
	}
	cmd.Flags().Int64("topic", 1, "topic id")
	cmd.Flags().Int64("user", 1, "author id")
	cmd.Flags().Int64("parent", 0, "parent post id")
	cmd.Flags().StringSlice("attach", nil, "text file to attach, repeatable")
	return cmd
}

// ============================================================================
// check
// ============================================================================

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, store, tokenizer, model endpoint and schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			if code := runCheck(cmd, fix); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	cmd.Flags().Bool("fix", false, "write a default config if none exists")
	return cmd
}

// checkModelTimeout bounds the model endpoint probe.
var checkModelTimeout = 10 * time.Second

func runCheck(cmd *cobra.Command, fix bool) int {
	out := cmd.OutOrStdout()
	loader := loaderFor(cmd)
	if !loader.FileExists() {
		if !fix {
			fmt.Fprintf(out, "  warn  %s not found, using defaults (run check --fix to write one)\n", loader.Path())
		} else if err := config.WriteDefault(loader.Path()); err != nil {
			fmt.Fprintf(out, "  FAIL  write %s: %v\n", loader.Path(), err)
			return 1
		} else {
			fmt.Fprintf(out, "  ok    wrote %s\n", loader.Path())
		}
	}

	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		fmt.Fprintf(out, "  FAIL  %v\n", err)
		return 1
	}
	defer a.Close()
	fmt.Fprintf(out, "  ok    config and %s store\n", a.cfg.Database.Driver)

	if a.counter.Available() {
		fmt.Fprintln(out, "  ok    tokenizer")
	} else {
		fmt.Fprintln(out, "  warn  tokenizer unavailable; prompts are counted as 0 tokens")
	}

	model := a.settings.SelectedModel(cmd.Context(), a.cfg.Model.Default)
	if a.clients.Inspector == nil {
		fmt.Fprintf(out, "  skip  model metadata (provider %s)\n", a.cfg.Model.Provider)
	} else {
		ctx, cancel := context.WithTimeout(cmd.Context(), checkModelTimeout)
		_, err := a.clients.Inspector.ShowModel(ctx, model)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "  warn  model %s: %v (replies fall back to the stub)\n", model, err)
		} else {
			fmt.Fprintf(out, "  ok    model %s\n", model)
		}
	}

	if a.warnIfNoWindows(cmd.Context(), out) {
		fmt.Fprintln(out, "  ok    processing windows")
	}
	return 0
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
