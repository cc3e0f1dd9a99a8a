package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rshade/apprunner-scale/internal/autoscaler"
	"github.com/rshade/apprunner-scale/internal/webhooks"
	"github.com/rshade/apprunner-scale/internal/webhooks/routers"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve SNS-backed custom resource requests over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}

			go a.engine.Start(ctx)

			server := NewServer(opts.cfg.Server, a.engine.Requests, routers.NewResponseSender(), routers.NewSNSVerifier())
			log.Info().Int("port", opts.cfg.Server.Port).Msg("Starting apprunnerscale server...")
			return server.Start(ctx)
		},
	}
	cmd.Flags().Int("port", 8080, "The port to listen on")
	_ = opts.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func newLambdaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as the Lambda function behind a custom resource",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			lambda.Start(cfn.LambdaWrap(lambdaHandler(a.engine)))
			return nil
		},
	}
}

// lambdaHandler adapts the engine to a CloudFormation custom resource
// function. LambdaWrap uploads the response.
func lambdaHandler(engine *autoscaler.Engine) cfn.CustomResourceFunction {
	return func(ctx context.Context, event cfn.Event) (string, map[string]interface{}, error) {
		ev, err := webhooks.ParseEvent(webhooks.EventKind(event.RequestType), event.ResourceProperties)
		if err != nil {
			return webhooks.PhysicalResourceID, nil, err
		}

		res, err := engine.Handle(ctx, ev)
		if err != nil {
			return res.PhysicalID, nil, err
		}

		data := make(map[string]interface{}, len(res.Data))
		for k, v := range res.Data {
			data[k] = v
		}
		return res.PhysicalID, data, nil
	}
}

func newReconcileCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply one custom resource request read from a file or stdin",
		Example: `  apprunnerscale reconcile -f event.json
  cat event.json | apprunnerscale reconcile`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readRequest(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			ev, err := req.Event()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}

			res, rerr := a.engine.Handle(cmd.Context(), ev)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(webhooks.NewResponse(req, res, rerr)); err != nil {
				return err
			}
			return rerr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Request JSON file, - for stdin")
	return cmd
}

func readRequest(stdin io.Reader, file string) (webhooks.CustomResourceRequest, error) {
	var req webhooks.CustomResourceRequest

	r := stdin
	if file != "-" && file != "" {
		f, err := os.Open(file)
		if err != nil {
			return req, fmt.Errorf("failed to open request file: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("failed to decode request: %w", err)
	}
	return req, nil
}

func newCheckConnectionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-connection [name]",
		Short: "Verify the source connection handshake is complete",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := opts.cfg.ConnectionName
			if len(args) == 1 {
				name = args[0]
			}
			if name == "" {
				return fmt.Errorf("connection name required: pass it as an argument or set connection_name")
			}

			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			if err := autoscaler.CheckConnection(cmd.Context(), a.client, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connection %s is AVAILABLE\n", name)
			return nil
		},
	}
}
