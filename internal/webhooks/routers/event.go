package routers

import (
	"encoding/json"
	"net/http"

	"github.com/rshade/apprunner-scale/internal/webhooks"
)

// EventResponse is the body returned by EventHandler.
type EventResponse struct {
	PhysicalResourceID string            `json:"PhysicalResourceId"`
	Data               map[string]string `json:"Data,omitempty"`
	Error              string            `json:"Error,omitempty"`
}

// EventHandler runs a lifecycle event synchronously. The body has the shape
// of a custom resource request; only RequestType and ResourceProperties are read.
func EventHandler(requests chan<- webhooks.Request) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cr webhooks.CustomResourceRequest
		if err := json.NewDecoder(r.Body).Decode(&cr); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		ev, err := cr.Event()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type outcome struct {
			res webhooks.Result
			err error
		}
		reply := make(chan outcome, 1)
		requests <- webhooks.Request{
			Event:  ev,
			Source: "api",
			Respond: func(res webhooks.Result, err error) {
				reply <- outcome{res, err}
			},
		}

		select {
		case <-r.Context().Done():
			return
		case o := <-reply:
			body := EventResponse{PhysicalResourceID: o.res.PhysicalID, Data: o.res.Data}
			status := http.StatusOK
			if o.err != nil {
				body.Data = nil
				body.Error = o.err.Error()
				status = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		}
	}
}
