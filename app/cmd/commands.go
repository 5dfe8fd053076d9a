package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ragqa/app/server"
	"ragqa/config"
	"ragqa/pipeline"
	"ragqa/types"
)

type cli struct {
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "ragd",
		Short:         "ragd answers questions about your documents with retrieval-augmented generation",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.envFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			slog.SetDefault(cfg.NewLogger(os.Stderr))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(
		c.serveCmd(),
		c.indexCmd(),
		c.queryCmd(),
		c.statusCmd(),
		c.deleteCmd(),
	)
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := server.NewProvider(cmd.Context(), server.Builder(c.cfg), server.StoreOpener(c.cfg))
			s := server.NewServer(c.cfg, provider)

			errCh := make(chan error, 1)
			go func() { errCh <- s.Run() }()

			sigch := make(chan os.Signal, 1)
			signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-sigch:
			}
			slog.Info("Received shutdown signal, shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.Stop(ctx)
		},
	}
}

// withPipeline builds the pipeline once for a single CLI command.
func (c *cli) withPipeline(cmd *cobra.Command, fn func(context.Context, *pipeline.Pipeline) error) error {
	ctx := cmd.Context()
	p, err := server.Builder(c.cfg)(ctx)
	if err != nil {
		return err
	}
	defer p.Store().Close()
	return fn(ctx, p)
}

func (c *cli) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index [path]",
		Short: "Index every .txt document in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfg.DocumentsDir
			if len(args) == 1 {
				path = args[0]
			}
			return c.withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
				report, err := p.Index(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Message)
				return nil
			})
		},
	}
}

func (c *cli) queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question about the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
				answer, err := p.Query(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), types.QueryResponse{Question: args[0], Answer: answer})
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the vector index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := server.NewStore(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer vs.Close()
			status, err := pipeline.Probe(cmd.Context(), vs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Irreversibly delete the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("deletion not confirmed: pass --confirm to delete index " + c.cfg.IndexName)
			}
			vs, err := server.NewStore(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer vs.Close()
			if err := vs.DeleteIndex(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index '%s' has been deleted successfully.\n", vs.Name())
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the irreversible deletion")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
