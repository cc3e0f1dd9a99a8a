package routers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rshade/apprunner-scale/internal/webhooks"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []webhooks.CustomResourceResponse
	urls  []string
	ready chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ready: make(chan struct{}, 10)}
}

func (s *recordingSender) Send(_ context.Context, url string, resp webhooks.CustomResourceResponse) error {
	s.mu.Lock()
	s.sent = append(s.sent, resp)
	s.urls = append(s.urls, url)
	s.mu.Unlock()
	s.ready <- struct{}{}
	return nil
}

func (s *recordingSender) wait(t *testing.T) webhooks.CustomResourceResponse {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("No response sent")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

const responseURL = "https://cloudformation-custom-resource-response-apnortheast1.s3.ap-northeast-1.amazonaws.com/arn%3Aaws%3Acloudformation/req-1?X-Amz-Signature=abc"

// staticVerifier accepts every message, or rejects every message with err.
type staticVerifier struct{ err error }

func (v staticVerifier) Verify(context.Context, *SNSMessage) error { return v.err }

func snsBody(t *testing.T, msgType, topic string, message interface{}) []byte {
	t.Helper()
	var msg string
	switch m := message.(type) {
	case string:
		msg = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		msg = string(b)
	}
	body, _ := json.Marshal(map[string]string{
		"Type":         msgType,
		"TopicArn":     topic,
		"Message":      msg,
		"SubscribeURL": "https://sns.example/confirm",
	})
	return body
}

func createRequest() webhooks.CustomResourceRequest {
	return webhooks.CustomResourceRequest{
		RequestType:       webhooks.KindCreate,
		ResponseURL:       responseURL,
		StackID:           "arn:aws:cloudformation:ap-northeast-1:123456789012:stack/StackA/guid",
		RequestID:         "req-1",
		LogicalResourceID: "AutoScalingConfiguration",
		ResourceProperties: map[string]interface{}{
			webhooks.PropName:           "StackA",
			webhooks.PropMaxConcurrency: "50",
			webhooks.PropMaxSize:        "3",
			webhooks.PropMinSize:        "1",
			webhooks.PropStackName:      "StackA",
		},
	}
}

func TestSNSHandler(t *testing.T) {
	requests := make(chan webhooks.Request, 1)
	sender := newRecordingSender()

	r := chi.NewRouter()
	r.Post("/webhook/sns", SNSHandler(requests, sender, staticVerifier{}, ""))

	req := httptest.NewRequest("POST", "/webhook/sns", bytes.NewBuffer(snsBody(t, "Notification", "arn:topic", createRequest())))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Handler returned wrong status code: got %v want %v", w.Code, http.StatusOK)
	}

	var got webhooks.Request
	select {
	case got = <-requests:
	default:
		t.Fatal("No request received")
	}
	if got.Event.Kind != webhooks.KindCreate || got.Event.ResourceName != "StackA" {
		t.Errorf("Wrong event: %+v", got.Event)
	}
	if got.Source != "sns" {
		t.Errorf("Wrong source: got %s want sns", got.Source)
	}

	got.Respond(webhooks.NewResult("arn:new"), nil)
	resp := sender.wait(t)
	if resp.Status != webhooks.StatusSuccess || resp.Data[webhooks.DataKeyARN] != "arn:new" {
		t.Errorf("Wrong response: %+v", resp)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("Wrong request id: got %s", resp.RequestID)
	}
	if sender.urls[0] != responseURL {
		t.Errorf("Wrong url: got %s", sender.urls[0])
	}
}

func TestSNSHandler_InvalidPropertiesFailFast(t *testing.T) {
	requests := make(chan webhooks.Request, 1)
	sender := newRecordingSender()
	handler := SNSHandler(requests, sender, staticVerifier{}, "")

	cr := createRequest()
	cr.ResourceProperties[webhooks.PropMinSize] = "9"

	req := httptest.NewRequest("POST", "/webhook/sns", bytes.NewBuffer(snsBody(t, "Notification", "arn:topic", cr)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Handler returned wrong status code: got %v want %v", w.Code, http.StatusOK)
	}
	resp := sender.wait(t)
	if resp.Status != webhooks.StatusFailed || resp.Reason == "" {
		t.Errorf("Expected FAILED with reason, got %+v", resp)
	}
	select {
	case <-requests:
		t.Error("Invalid request must not reach the engine")
	default:
	}
}

func TestSNSHandler_Envelope(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		body     []byte
		wantCode int
	}{
		{name: "subscription confirmation", body: snsBody(t, "SubscriptionConfirmation", "arn:topic", "Confirm me"), wantCode: http.StatusOK},
		{name: "unsubscribe", body: snsBody(t, "UnsubscribeConfirmation", "arn:topic", "bye"), wantCode: http.StatusOK},
		{name: "invalid json", body: []byte("not json"), wantCode: http.StatusBadRequest},
		{name: "invalid message", body: snsBody(t, "Notification", "arn:topic", "not json"), wantCode: http.StatusBadRequest},
		{name: "missing response url", body: snsBody(t, "Notification", "arn:topic", map[string]string{"RequestType": "Create"}), wantCode: http.StatusBadRequest},
		{name: "unexpected topic", topic: "arn:other", body: snsBody(t, "Notification", "arn:topic", createRequest()), wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := make(chan webhooks.Request, 1)
			handler := SNSHandler(requests, newRecordingSender(), staticVerifier{}, tt.topic)

			req := httptest.NewRequest("POST", "/webhook/sns", bytes.NewBuffer(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("Handler returned wrong status code: got %v want %v", w.Code, tt.wantCode)
			}
			select {
			case <-requests:
				t.Error("Expected no request")
			default:
			}
		})
	}
}

func TestSNSHandler_RejectsForgedMessage(t *testing.T) {
	requests := make(chan webhooks.Request, 1)
	sender := newRecordingSender()
	handler := SNSHandler(requests, sender, staticVerifier{err: ErrInvalidSignature}, "")

	cr := createRequest()
	cr.RequestType = webhooks.KindDelete
	req := httptest.NewRequest("POST", "/webhook/sns", bytes.NewBuffer(snsBody(t, "Notification", "arn:topic", cr)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Handler returned wrong status code: got %v want %v", w.Code, http.StatusForbidden)
	}
	select {
	case <-requests:
		t.Error("Forged request must not reach the engine")
	default:
	}
	if len(sender.sent) != 0 {
		t.Errorf("Forged request must not be answered: %+v", sender.sent)
	}
}

func TestSNSHandler_RejectsForeignResponseURL(t *testing.T) {
	for _, target := range []string{
		"http://169.254.169.254/latest/meta-data",
		"https://attacker.example/response",
		"https://s3.amazonaws.com.attacker.example/response",
	} {
		t.Run(target, func(t *testing.T) {
			requests := make(chan webhooks.Request, 1)
			sender := newRecordingSender()
			handler := SNSHandler(requests, sender, staticVerifier{}, "")

			cr := createRequest()
			cr.RequestType = webhooks.KindDelete
			cr.ResponseURL = target
			req := httptest.NewRequest("POST", "/webhook/sns", bytes.NewBuffer(snsBody(t, "Notification", "arn:topic", cr)))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Handler returned wrong status code: got %v want %v", w.Code, http.StatusBadRequest)
			}
			select {
			case <-requests:
				t.Error("Request must not reach the engine")
			default:
			}
			time.Sleep(10 * time.Millisecond)
			sender.mu.Lock()
			defer sender.mu.Unlock()
			if len(sender.urls) != 0 {
				t.Errorf("Nothing may be sent to %s", target)
			}
		})
	}
}
