package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gisauth/internal/bridge"
	"gisauth/internal/metrics"
	"gisauth/pkg/logging"

	"github.com/spf13/cobra"
)

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Share the session with embedded applications",
		Long: `The bridge lets an embedded application obtain the signed-in credential
from its host over a message channel. "bridge serve" runs the host side over
WebSocket; "bridge request" is the embedded side.`,
	}
	cmd.AddCommand(newBridgeServeCmd())
	cmd.AddCommand(newBridgeRequestCmd())
	return cmd
}

func newBridgeServeCmd() *cobra.Command {
	var (
		listen  string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer credential requests from trusted origins",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if listen != "" {
				rt.cfg.Bridge.Listen = listen
			}
			if len(origins) > 0 {
				rt.cfg.Bridge.Origins = origins
			}
			if len(rt.cfg.Bridge.Origins) == 0 {
				return fmt.Errorf("no bridge origins configured; set bridge.origins or pass --origin")
			}

			m, err := rt.loadSession()
			if err != nil {
				return err
			}
			stopWatch := rt.watchSession(m)
			defer stopWatch()

			mux := http.NewServeMux()
			mux.Handle(rt.cfg.Bridge.Path, bridge.Handler(m, rt.cfg.Bridge.Origins))
			if rt.cfg.Bridge.MetricsPath != "" {
				mux.Handle(rt.cfg.Bridge.MetricsPath, metrics.Handler())
			}
			server := &http.Server{
				Addr:              rt.cfg.Bridge.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()
			logging.Info("Bridge", "Serving bridge on ws://%s%s for %v", rt.cfg.Bridge.Listen, rt.cfg.Bridge.Path, rt.cfg.Bridge.Origins)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logging.Info("Bridge", "Shutting down")
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (overrides bridge.listen)")
	cmd.Flags().StringArrayVar(&origins, "origin", nil, "Origin allowed to request the credential (repeatable, overrides bridge.origins)")
	return cmd
}

func newBridgeRequestCmd() *cobra.Command {
	var (
		origin string
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "request <ws-url>",
		Short: "Request the credential from a bridge host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			hostOrigin, err := bridge.HostOrigin(args[0])
			if err != nil {
				return err
			}

			ctx := cmdContext(cmd)
			port, err := bridge.Dial(ctx, args[0], origin)
			if err != nil {
				return err
			}
			defer port.Close()

			opts := []bridge.Option{bridge.WithIdentityOptions(rt.identityOptions()...)}
			if rt.cfg.Timeouts.Bridge > 0 {
				opts = append(opts, bridge.WithTimeout(rt.cfg.Timeouts.Bridge))
			}
			m, err := bridge.FromParent(ctx, port, hostOrigin, opts...)
			if err != nil {
				return err
			}

			if save {
				if err := rt.saveSession(m); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Received credential for %s from %s\n", displayUser(m), hostOrigin)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "Origin to present to the host")
	cmd.Flags().BoolVar(&save, "save", false, "Save the received credential as the session")
	return cmd
}
