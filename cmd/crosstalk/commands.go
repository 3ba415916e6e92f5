package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crosstalk/internal/catalog"
	"crosstalk/internal/config"
	"crosstalk/internal/domain"
	"crosstalk/internal/llm"
	"crosstalk/internal/secrets"
	"crosstalk/internal/session"
	"crosstalk/internal/store"
	"crosstalk/internal/tokenizer"
	"crosstalk/internal/window"
)

// app bundles the wired components a command needs.
type app struct {
	session *session.Session
	catalog *catalog.Catalog
	close   func()
}

// buildApp wires the session from config: catalog (embedded or override
// file), adapter registry, credential resolver, token estimator, optimizer,
// and the conversation store (sqlite when a database URL is configured,
// in-memory otherwise).
func buildApp(cfg *config.Config) (*app, error) {
	setupLogger(cfg)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	if cfg.Chat.RequestTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Chat.RequestTimeoutSeconds) * time.Second
	}
	registry := llm.NewRegistry(timeout)
	if cfg.Chat.Retry != nil {
		if err := registry.SetRetryPolicy(*cfg.Chat.Retry); err != nil {
			return nil, err
		}
	}

	envNames := make(map[string]string)
	for _, provider := range cat.Providers() {
		if descs := cat.ProviderModels(provider); len(descs) > 0 {
			envNames[provider] = descs[0].APIKeyEnv
		}
	}
	creds := secrets.NewResolver(cfg.Credentials.Global, cfg.Credentials.Projects, envNames)

	estimator := tokenizer.NewEstimator(tokenizer.DefaultEncoding)
	optimizer := window.NewOptimizer(estimator, cfg.Chat.BudgetRatio, slog.Default())

	var conversations domain.ConversationStore
	closeFn := func() {}
	if cfg.Database.URL != "" {
		db, err := store.Connect(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		sqlStore, err := store.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		conversations = sqlStore
		closeFn = func() { db.Close() }
	} else {
		conversations = store.NewMemoryStore()
	}

	sess := session.New(conversations, cat, registry, creds, estimator, optimizer, session.WithLogger(slog.Default()))
	return &app{session: sess, catalog: cat, close: closeFn}, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Chat.CatalogPath != "" {
		return catalog.Load(cfg.Chat.CatalogPath)
	}
	return catalog.Default()
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [instruction]",
		Short: "Send an instruction and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			project, _ := cmd.Flags().GetString("project")
			provider, _ := cmd.Flags().GetString("provider")
			model, _ := cmd.Flags().GetString("model")
			imagePaths, _ := cmd.Flags().GetStringArray("image")
			isInitial, _ := cmd.Flags().GetBool("new")
			if noStream, _ := cmd.Flags().GetBool("no-stream"); noStream {
				a.session.DisableStreaming = true
			}

			images, err := encodeImages(imagePaths)
			if err != nil {
				return err
			}

			instruction := strings.Join(args, " ")
			chunks, err := a.session.StreamChatCompletion(cmd.Context(), project, provider, model, instruction, images, isInitial)
			if err != nil {
				return err
			}

			for chunk := range chunks {
				if chunk.Err() {
					fmt.Fprintln(cmd.ErrOrStderr())
					return fmt.Errorf("%s", chunk.Content)
				}
				fmt.Fprint(cmd.OutOrStdout(), chunk.Content)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().String("project", "default", "project id")
	cmd.Flags().String("provider", llm.ProviderDeepSeek, "provider id")
	cmd.Flags().String("model", "", "model id (provider default when empty)")
	cmd.Flags().StringArray("image", nil, "image file to attach (repeatable)")
	cmd.Flags().Bool("new", false, "start a new conversation (clears stored history)")
	cmd.Flags().Bool("no-stream", false, "wait for the full reply instead of streaming")
	return cmd
}

func newModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List a provider's models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			project, _ := cmd.Flags().GetString("project")
			provider, _ := cmd.Flags().GetString("provider")
			live, _ := cmd.Flags().GetBool("live")

			if !live {
				for _, d := range a.catalog.ProviderModels(provider) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t(context %d)\n", d.ModelID, d.DisplayName, d.ContextWindow)
				}
				return nil
			}

			adapter, _, err := a.session.AdapterFor(provider, "", project)
			if err != nil {
				return err
			}
			for _, id := range adapter.ListModels(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().String("project", "default", "project id")
	cmd.Flags().String("provider", llm.ProviderDeepSeek, "provider id")
	cmd.Flags().Bool("live", false, "query the provider instead of the static catalog")
	return cmd
}

func newSummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the stored conversation summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			project, _ := cmd.Flags().GetString("project")
			provider, _ := cmd.Flags().GetString("provider")

			summary, err := a.session.Summary(cmd.Context(), project, provider)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider:           %s\n", summary.Provider)
			fmt.Fprintf(out, "total messages:     %d\n", summary.TotalMessages)
			fmt.Fprintf(out, "user messages:      %d\n", summary.UserMessages)
			fmt.Fprintf(out, "assistant messages: %d\n", summary.AssistantMessages)
			fmt.Fprintf(out, "has system prompt:  %t\n", summary.HasSystemPrompt)
			fmt.Fprintf(out, "estimated tokens:   %d\n", summary.EstimatedTokens)
			return nil
		},
	}
	cmd.Flags().String("project", "default", "project id")
	cmd.Flags().String("provider", llm.ProviderDeepSeek, "provider id")
	return cmd
}

func newClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			project, _ := cmd.Flags().GetString("project")
			provider, _ := cmd.Flags().GetString("provider")

			removed, err := a.session.Clear(cmd.Context(), project, provider)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d messages for %s in project %s\n", removed, provider, project)
			return nil
		},
	}
	cmd.Flags().String("project", "default", "project id")
	cmd.Flags().String("provider", llm.ProviderDeepSeek, "provider id")
	return cmd
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Probe a provider credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			project, _ := cmd.Flags().GetString("project")
			provider, _ := cmd.Flags().GetString("provider")

			adapter, desc, err := a.session.AdapterFor(provider, "", project)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), llm.DefaultTimeout)
			defer cancel()
			if adapter.ValidateCredential(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s credential is valid (probed %s)\n", provider, desc.ModelID)
				return nil
			}
			return fmt.Errorf("%s credential is invalid or unreachable", provider)
		},
	}
	cmd.Flags().String("project", "default", "project id")
	cmd.Flags().String("provider", llm.ProviderDeepSeek, "provider id")
	return cmd
}

// encodeImages reads each file and base64-encodes it for the message payload.
func encodeImages(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	images := make([]string, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", path, err)
		}
		images = append(images, base64.StdEncoding.EncodeToString(raw))
	}
	return images, nil
}
