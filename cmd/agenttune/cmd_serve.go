package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agenttune/internal/bus"
)

var serveAddr string

// serveCmd runs the monitoring loop and the telemetry ingestion endpoint.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring and self-optimization loop",
	Long: `Starts the full control loop:
  1. Ingest telemetry and feedback events (HTTP POST /events)
  2. Evaluate optimization policy on every update and on a periodic sweep
  3. Run triggered optimization cycles: suggest, apply, verify, record
  4. Revert and warn when a mutation regresses

The loop runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8377", "telemetry listen address")
}

// ingestEvent is the wire shape accepted on POST /events.
type ingestEvent struct {
	Type           string   `json:"type"` // metrics | feedback
	AgentID        string   `json:"agentId"`
	ResponseTimeMS *float64 `json:"responseTime,omitempty"`
	TokenUsage     *float64 `json:"tokenUsage,omitempty"`
	SuccessRate    *float64 `json:"successRate,omitempty"`
	ErrorRate      *float64 `json:"errorRate,omitempty"`
	FeedbackScore  *float64 `json:"feedbackScore,omitempty"`
	Comments       string   `json:"comments,omitempty"`
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx, true, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	s.optimizer.Start(ctx)

	interval, err := s.cfg.EvaluationInterval()
	if err != nil {
		return err
	}
	s.optimizer.StartPeriodic(ctx, interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		var ev ingestEvent
		if err := json.Unmarshal(body, &ev); err != nil || ev.AgentID == "" {
			http.Error(w, "invalid event", http.StatusBadRequest)
			return
		}

		switch ev.Type {
		case "feedback":
			if ev.FeedbackScore == nil {
				http.Error(w, "feedback event requires feedbackScore", http.StatusBadRequest)
				return
			}
			s.router.Publish(bus.TopicFeedbackReceived, bus.FeedbackReceived{
				AgentID:       ev.AgentID,
				FeedbackScore: *ev.FeedbackScore,
				Comments:      ev.Comments,
			})
		default:
			s.router.Publish(bus.TopicMetricsUpdated, bus.MetricsUpdated{
				AgentID:        ev.AgentID,
				ResponseTimeMS: ev.ResponseTimeMS,
				TokenUsage:     ev.TokenUsage,
				SuccessRate:    ev.SuccessRate,
				ErrorRate:      ev.ErrorRate,
			})
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("telemetry endpoint listening", zap.String("addr", serveAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	return nil
}
