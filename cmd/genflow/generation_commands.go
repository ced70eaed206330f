package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genflow/internal/api"
)

const streamPollInterval = 250 * time.Millisecond

type submitOptions struct {
	kind            string
	provider        string
	model           string
	systemPrompt    string
	promptFile      string
	templateID      string
	templateVersion string
	brandID         string
	variables       map[string]string
	parameters      map[string]string
	metadata        map[string]string
	wait            bool
	follow          bool
	json            bool
}

func newGenerationCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newSubmitCommand(ctx),
		newCancelCommand(ctx),
		newRetryCommand(ctx),
		newShowCommand(ctx),
		newActiveCommand(ctx),
		newStreamCommand(ctx),
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit [prompt...]",
		Short: "Submit a rendered prompt for generation",
		Example: `  genflow submit --kind text "Write a tagline for a bakery"
  genflow submit --kind image --param aspect_ratio=16:9 --brand acme "A storefront at dawn"
  genflow submit --prompt-file prompt.txt --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args, opts.promptFile)
			if err != nil {
				return err
			}
			req := api.SubmitRequest{
				Kind:            strings.TrimSpace(opts.kind),
				Provider:        strings.TrimSpace(opts.provider),
				Model:           strings.TrimSpace(opts.model),
				Prompt:          prompt,
				SystemPrompt:    opts.systemPrompt,
				TemplateID:      strings.TrimSpace(opts.templateID),
				TemplateVersion: strings.TrimSpace(opts.templateVersion),
				BrandID:         strings.TrimSpace(opts.brandID),
				Variables:       opts.variables,
				Parameters:      parseKeyValues(opts.parameters),
				Metadata:        parseKeyValues(opts.metadata),
			}

			return ctx.withClient(func(client *api.Client) error {
				id, err := client.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				switch {
				case opts.follow:
					return followStream(cmd, client, id)
				case opts.wait:
					rec, err := waitForRecord(cmd.Context(), client, id)
					if err != nil {
						return err
					}
					if opts.json {
						return writeJSON(cmd, rec)
					}
					printRecord(cmd, rec)
					return nil
				case opts.json:
					return writeJSON(cmd, api.SubmitResponse{ID: id})
				default:
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				}
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.kind, "kind", "k", "text", "Content kind: text, image or video")
	flags.StringVarP(&opts.provider, "provider", "p", "mock", "Provider name")
	flags.StringVarP(&opts.model, "model", "m", "", "Provider model override")
	flags.StringVar(&opts.systemPrompt, "system", "", "System prompt")
	flags.StringVarP(&opts.promptFile, "prompt-file", "f", "", "Read the prompt from a file (- for stdin)")
	flags.StringVar(&opts.templateID, "template", "", "Template id recorded with the generation")
	flags.StringVar(&opts.templateVersion, "template-version", "", "Template version recorded with the generation")
	flags.StringVar(&opts.brandID, "brand", "", "Brand id recorded with the generation")
	flags.StringToStringVar(&opts.variables, "var", nil, "Template variable (key=value, repeatable)")
	flags.StringToStringVar(&opts.parameters, "param", nil, "Provider parameter (key=value, repeatable)")
	flags.StringToStringVar(&opts.metadata, "meta", nil, "Caller metadata (key=value, repeatable)")
	flags.BoolVarP(&opts.wait, "wait", "w", false, "Wait for the generation to finish and print the record")
	flags.BoolVar(&opts.follow, "follow", false, "Print streamed text as it arrives")
	flags.BoolVar(&opts.json, "json", false, "Output as JSON")
	return cmd
}

func readPrompt(stdin io.Reader, args []string, promptFile string) (string, error) {
	switch strings.TrimSpace(promptFile) {
	case "":
		if len(args) == 0 {
			return "", errors.New("a prompt argument or --prompt-file is required")
		}
		return strings.Join(args, " "), nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		return string(data), nil
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Cancel queued or running generations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					cancelled, err := client.Cancel(cmd.Context(), id)
					if err != nil {
						return err
					}
					if cancelled {
						fmt.Fprintf(out, "Generation %s cancelled\n", id)
					} else {
						fmt.Fprintf(out, "Generation %s is not queued or running\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed generation under a new id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				newID, err := client.Retry(cmd.Context(), args[0])
				if errors.Is(err, api.ErrNotFound) {
					return fmt.Errorf("generation %s not found in history", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %s as %s\n", args[0], newID)
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show where a generation is and its current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Describe(cmd.Context(), args[0])
				if errors.Is(err, api.ErrNotFound) {
					return fmt.Errorf("generation %s not found", args[0])
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				printGeneration(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newActiveCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List running generations and the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Active(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No generations running")
				} else {
					fmt.Fprintln(out, renderTable(activeColumns, buildActiveRows(resp.Items, shouldColorize(out))))
				}
				if len(resp.Queued) > 0 {
					fmt.Fprintf(out, "Queued (%d): %s\n", len(resp.Queued), strings.Join(resp.Queued, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStreamCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <id>",
		Short: "Follow the streamed text of a generation until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				return followStream(cmd, client, args[0])
			})
		},
	}
}

// followStream prints new streamed text as it appears and a status line once
// the generation is terminal.
func followStream(cmd *cobra.Command, client *api.Client, id string) error {
	out := cmd.OutOrStdout()
	printed := 0
	for {
		resp, err := client.Stream(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(resp.Content) > printed {
			fmt.Fprint(out, resp.Content[printed:])
			printed = len(resp.Content)
		}
		if resp.Done {
			if printed > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "[%s]\n", colorStatus(resp.Status, shouldColorize(out)))
			if resp.Status == "failed" {
				return explainFailure(cmd.Context(), client, id)
			}
			return nil
		}
		if err := pause(cmd.Context(), streamPollInterval); err != nil {
			return err
		}
	}
}

func explainFailure(ctx context.Context, client *api.Client, id string) error {
	resp, err := client.Describe(ctx, id)
	if err != nil || resp.Record == nil {
		return fmt.Errorf("generation %s failed", id)
	}
	return fmt.Errorf("generation %s failed (%s): %s", id, resp.Record.ErrorKind, resp.Record.Error)
}

func waitForRecord(ctx context.Context, client *api.Client, id string) (api.Record, error) {
	for {
		resp, err := client.Describe(ctx, id)
		if err != nil {
			return api.Record{}, err
		}
		if resp.Record != nil {
			return *resp.Record, nil
		}
		if err := pause(ctx, streamPollInterval); err != nil {
			return api.Record{}, err
		}
	}
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func printGeneration(cmd *cobra.Command, resp api.GenerationResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	switch {
	case resp.Queued != nil:
		fmt.Fprintln(out, renderKeyValue("ID", resp.ID))
		fmt.Fprintln(out, renderKeyValue("Location", "queue"))
		fmt.Fprintln(out, renderKeyValue("Position", fmt.Sprintf("%d", resp.Queued.Position+1)))
		fmt.Fprintln(out, renderKeyValue("Kind", formatStatusLabel(resp.Queued.Kind)))
		fmt.Fprintln(out, renderKeyValue("Provider", resp.Queued.Provider))
		fmt.Fprintln(out, renderKeyValue("Submitted", formatDisplayTime(resp.Queued.CreatedAt)))
	case resp.Active != nil:
		a := resp.Active
		fmt.Fprintln(out, renderKeyValue("ID", a.ID))
		fmt.Fprintln(out, renderKeyValue("Status", colorStatus(a.Status, colorize)))
		fmt.Fprintln(out, renderKeyValue("Kind", formatStatusLabel(a.Kind)))
		fmt.Fprintln(out, renderKeyValue("Provider", a.Provider))
		fmt.Fprintln(out, renderKeyValue("Progress", formatProgress(a.Progress)))
		fmt.Fprintln(out, renderKeyValue("Started", formatDisplayTime(a.StartedAt)))
		fmt.Fprintln(out, renderKeyValue("Cancellable", yesNo(a.Cancellable)))
		if a.StreamedContent != "" {
			fmt.Fprintln(out, renderKeyValue("Streamed", api.PromptPreview(a.StreamedContent, 72)))
		}
	case resp.Record != nil:
		printRecord(cmd, *resp.Record)
	}
}

func printRecord(cmd *cobra.Command, rec api.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderKeyValue("ID", rec.ID))
	fmt.Fprintln(out, renderKeyValue("Status", colorStatus(rec.Status, shouldColorize(out))))
	fmt.Fprintln(out, renderKeyValue("Kind", formatStatusLabel(rec.Kind)))
	fmt.Fprintln(out, renderKeyValue("Provider", rec.Provider))
	if rec.Model != "" {
		fmt.Fprintln(out, renderKeyValue("Model", rec.Model))
	}
	fmt.Fprintln(out, renderKeyValue("Prompt", api.PromptPreview(rec.Prompt, 72)))
	if rec.TemplateID != "" {
		fmt.Fprintln(out, renderKeyValue("Template", strings.TrimSuffix(rec.TemplateID+"@"+rec.TemplateVersion, "@")))
	}
	if rec.BrandID != "" {
		fmt.Fprintln(out, renderKeyValue("Brand", rec.BrandID))
	}
	fmt.Fprintln(out, renderKeyValue("Duration", formatDurationMillis(rec.DurationMillis)))
	fmt.Fprintln(out, renderKeyValue("Cost", formatCost(rec.Cost)))
	fmt.Fprintln(out, renderKeyValue("Finished", formatDisplayTime(rec.FinishedAt)))
	if rec.Error != "" {
		fmt.Fprintln(out, renderKeyValue("Error", fmt.Sprintf("%s (%s)", rec.Error, rec.ErrorKind)))
	}
	if rec.Result != nil {
		if rec.Result.ArtifactRef != "" {
			fmt.Fprintln(out, renderKeyValue("Artifact", rec.Result.ArtifactRef))
		}
		if rec.Result.Text != "" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, rec.Result.Text)
		}
	}
}
