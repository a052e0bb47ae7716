package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/metrics"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/txrelayer"
)

func StartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the bonder node",
		RunE:  StartAction,
	}
}

func StartAction(c *cobra.Command, _ []string) error {
	cfg, database, parentLogger, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()
	logger := parentLogger.Sugar()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var bonder txrelayer.ITxRelayer
	b, err := txrelayer.NewBonder(c.Context(), cfg, database, m, parentLogger)
	if err != nil {
		return err
	}
	bonder = b
	if err := bonder.Start(); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metrics.Handler(registry),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("serving metrics on %s", cfg.Metrics.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server failed: %v", err)
			}
		}()
		addInterruptHandler(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}

	var runErr error
	addInterruptHandler(func() {
		logger.Infof("Stopping %s...", bonder.Name())
		bonder.Stop()
		runErr = bonder.WaitForShutdown()
		logger.Infof("%s shutdown", bonder.Name())
	})

	// a failed task stops the node the same way an interrupt does
	go func() {
		<-b.Done()
		requestShutdown()
	}()

	<-interruptHandlersDone
	if runErr != nil {
		logger.Errorf("bonder exited: %v", runErr)
		return runErr
	}
	parentLogger.Info("Shutdown complete")
	return nil
}
