package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"specgraph/internal/pipeline"
	"specgraph/internal/retrieval"
	"specgraph/internal/server"
	"specgraph/internal/service"
	"specgraph/internal/storage"
)

// runtime opens the store and assembles the query path. The caller closes
// the returned store.
func (a *app) runtime(ctx context.Context) (*pipeline.Runtime, *storage.SQLiteStore, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}

	em, err := a.embedder(ctx)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	c, err := a.completer(ctx)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	rt, err := pipeline.NewRuntime(ctx, pipeline.RuntimeOptions{
		Config:    a.cfg,
		Store:     store,
		Embedder:  em,
		Completer: c,
		Log:       a.log,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return rt, store, nil
}

func newQueryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the stored graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question := strings.Join(args, " ")
			if retrieval.NormalizeQuery(question) == "" {
				fmt.Fprintln(cmd.OutOrStdout(), service.AnswerInvalidQuery)
				return nil
			}

			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			rt, store, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			resp, err := rt.Service.HandleQuery(ctx, question)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			if len(resp.Highlight) > 0 {
				fmt.Fprintf(out, "\n📍 Sections: %s\n", strings.Join(resp.Highlight, ", "))
			}
			return err
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API and graph JSON over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			rt, store, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := server.New(rt.Service, rt.Graph, server.Options{
				Addr:     addr,
				Policy:   a.cfg.DanglingPolicy(),
				Gatherer: rt.Registry,
				Metrics:  rt.Metrics,
				Log:      a.log,
			})

			errCh := make(chan error, 1)
			go func() {
				a.log.LogServerStart(addr, a.cfg.Data.GraphDB)
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.LogServerShutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	return cmd
}
