package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rshade/apprunner-scale/internal/webhooks"
)

// Sender delivers a custom resource response to CloudFormation.
type Sender interface {
	Send(ctx context.Context, url string, resp webhooks.CustomResourceResponse) error
}

// ResponseSender PUTs responses to the pre-signed ResponseURL. CloudFormation
// waits up to an hour for it, so transient failures are retried.
type ResponseSender struct {
	Client     *http.Client
	MaxRetries int
	BaseDelay  time.Duration
}

func NewResponseSender() *ResponseSender {
	return &ResponseSender{
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 5,
		BaseDelay:  1 * time.Second,
	}
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

func (s *ResponseSender) Send(ctx context.Context, url string, resp webhooks.CustomResourceResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	return s.retryTransient(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		// The pre-signed S3 URL is signed without a content type.
		req.Header.Set("Content-Type", "")

		res, err := s.Client.Do(req)
		if err != nil {
			return transientError{err}
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, res.Body)

		switch {
		case res.StatusCode >= 500:
			return transientError{fmt.Errorf("response upload returned %s", res.Status)}
		case res.StatusCode >= 300:
			return fmt.Errorf("response upload returned %s", res.Status)
		}
		return nil
	})
}

// retryTransient retries op with exponential backoff while it fails with a transientError.
func (s *ResponseSender) retryTransient(ctx context.Context, op func() error) error {
	for i := 0; i <= s.MaxRetries; i++ {
		err := op()
		if err == nil {
			return nil
		}

		var transient transientError
		if !errors.As(err, &transient) {
			return err // Non-retryable error
		}

		if i == s.MaxRetries {
			return fmt.Errorf("max retries exceeded sending response: %w", err)
		}

		delay := s.BaseDelay * time.Duration(math.Pow(2, float64(i)))
		log.Info().Err(err).Dur("delay", delay).Msg("Response upload failed. Retrying...")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// respondAsync answers req out of band of the HTTP request that delivered it.
func respondAsync(sender Sender, req webhooks.CustomResourceRequest, res webhooks.Result, rerr error) {
	resp := webhooks.NewResponse(req, res, rerr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := sender.Send(ctx, req.ResponseURL, resp); err != nil {
		log.Error().
			Err(err).
			Str("requestId", req.RequestID).
			Str("status", string(resp.Status)).
			Msg("Failed to deliver custom resource response")
		return
	}
	log.Info().
		Str("requestId", req.RequestID).
		Str("status", string(resp.Status)).
		Msg("Custom resource response delivered")
}
