package routers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/rshade/apprunner-scale/internal/webhooks"
)

// SNSHandler handles an SNS-backed custom resource. CloudFormation publishes
// the request to a topic; the topic delivers it here and the outcome is PUT
// to the request's ResponseURL once the engine has reconciled it.
// Messages must carry a valid SNS signature. A non-empty topicArn rejects
// messages from any other topic.
func SNSHandler(requests chan<- webhooks.Request, sender Sender, verifier Verifier, topicArn string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 256<<10))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusInternalServerError)
			return
		}
		defer r.Body.Close()

		var snsPayload SNSMessage
		if err := json.Unmarshal(body, &snsPayload); err != nil {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}

		if err := verifier.Verify(r.Context(), &snsPayload); err != nil {
			log.Warn().
				Err(err).
				Str("topic", snsPayload.TopicArn).
				Str("remote", r.RemoteAddr).
				Msg("Rejected unsigned SNS message")
			http.Error(w, "Invalid signature", http.StatusForbidden)
			return
		}

		if topicArn != "" && snsPayload.TopicArn != topicArn {
			log.Warn().Str("topic", snsPayload.TopicArn).Msg("Rejected SNS message from unexpected topic")
			http.Error(w, "Unexpected topic", http.StatusForbidden)
			return
		}

		switch snsPayload.Type {
		case "SubscriptionConfirmation":
			log.Warn().
				Str("topic", snsPayload.TopicArn).
				Str("subscribeUrl", snsPayload.SubscribeURL).
				Msg("Received SNS SubscriptionConfirmation. Visit SubscribeURL to confirm.")
			w.WriteHeader(http.StatusOK)
			return
		case "Notification":
		default:
			w.WriteHeader(http.StatusOK)
			return
		}

		var cr webhooks.CustomResourceRequest
		if err := json.Unmarshal([]byte(snsPayload.Message), &cr); err != nil {
			http.Error(w, "Invalid custom resource request", http.StatusBadRequest)
			return
		}
		if err := ValidateResponseURL(cr.ResponseURL); err != nil {
			log.Warn().Err(err).Str("requestId", cr.RequestID).Msg("Rejected custom resource request")
			http.Error(w, "Invalid ResponseURL", http.StatusBadRequest)
			return
		}

		ev, err := cr.Event()
		if err != nil {
			// Answer right away; CloudFormation would otherwise wait for an hour.
			go respondAsync(sender, cr, webhooks.Result{}, err)
			w.WriteHeader(http.StatusOK)
			return
		}

		requests <- webhooks.Request{
			Event:  ev,
			Source: "sns",
			Respond: func(res webhooks.Result, err error) {
				respondAsync(sender, cr, res, err)
			},
		}
		w.WriteHeader(http.StatusOK)
	}
}
