package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/whatsuit/replybridge/internal/biz/domain"
	"github.com/whatsuit/replybridge/internal/service"
)

func replyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <notification-id> [message]",
		Short: "Generate a reply for a stored notification, streaming words to stdout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			message := ""
			if len(args) == 2 {
				message = args[1]
			}

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			streamed := false
			return wait(func(cb service.Callback) {
				a.Service.GenerateReply(id, message, cb)
			}, func(text string) {
				streamed = true
				fmt.Fprint(out, text)
			}, func(text string) {
				// canned texts (duplicate, rate limited) arrive without partials
				if !streamed {
					fmt.Fprint(out, text)
				}
				fmt.Fprintln(out)
			})
		},
	}
}

func analyzeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <conversation-id>",
		Short: "Analyze the stored history of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			return wait(func(cb service.Callback) {
				a.Service.AnalyzeConversation(args[0], cb)
			}, nil, func(text string) {
				fmt.Fprintln(out, text)
			})
		},
	}
}

// wait starts a job and blocks until its terminal callback
func wait(start func(service.Callback), partial, complete func(string)) error {
	done := make(chan error, 1)
	start(service.CallbackFuncs{
		Partial: partial,
		Complete: func(text string) {
			if complete != nil {
				complete(text)
			}
			done <- nil
		},
		Error: func(err error) {
			done <- err
		},
	})
	return <-done
}

func configCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the model configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored configuration with the key masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := a.Repos.Config.Get(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg == nil {
				fmt.Fprintln(out, "not configured")
				return nil
			}
			fmt.Fprintf(out, "api_key:                %s\n", cfg.MaskedKey())
			fmt.Fprintf(out, "model_name:             %s\n", cfg.ModelName)
			fmt.Fprintf(out, "max_history_per_thread: %d\n", cfg.HistoryCap())
			fmt.Fprintf(out, "updated_at:             %s\n", cfg.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	})

	var apiKey, model string
	var maxHistory int
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the stored configuration; omitted flags keep their value",
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxHistory < 0 {
				return fmt.Errorf("--max-history must not be negative")
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := a.Repos.Config.Get(cmd.Context())
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &domain.GeminiConfig{}
			}
			if apiKey != "" {
				cfg.APIKey = apiKey
			}
			if model != "" {
				cfg.ModelName = model
			}
			if maxHistory > 0 {
				cfg.MaxHistoryPerThread = maxHistory
			}
			if err := a.Repos.Config.Save(cmd.Context(), cfg); err != nil {
				return err
			}
			if err := a.Service.Reinitialize(cmd.Context()); err != nil {
				return fmt.Errorf("saved, but the model client failed to initialize: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "saved")
			return nil
		},
	}
	set.Flags().StringVar(&apiKey, "api-key", "", "Gemini API key")
	set.Flags().StringVar(&model, "model", "", "Model name")
	set.Flags().IntVar(&maxHistory, "max-history", 0, "History entries kept per thread")
	cmd.AddCommand(set)

	return cmd
}

func templateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage global reply templates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			templates, err := a.Prompts.ListTemplates(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tTEMPLATE")
			for _, t := range templates {
				fmt.Fprintf(tw, "%d\t%s\t%v\t%s\n", t.ID, t.Name, t.Active, oneLine(t.Template, 60))
			}
			return tw.Flush()
		},
	})

	var name, text, file string
	var activate bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a template; it must contain {message}",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				text = string(b)
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.Prompts.CreateTemplate(cmd.Context(), &domain.PromptTemplate{Name: name, Template: text})
			if err != nil {
				return err
			}
			if activate {
				if err := a.Prompts.ActivateTemplate(cmd.Context(), id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template %d created\n", id)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "Template name")
	add.Flags().StringVar(&text, "template", "", "Template text")
	add.Flags().StringVar(&file, "file", "", "Read the template text from a file")
	add.Flags().BoolVar(&activate, "activate", false, "Activate the new template")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <id>",
		Short: "Make a template the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid template id %q", args[0])
			}
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Prompts.ActivateTemplate(cmd.Context(), id)
		},
	})

	return cmd
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}
