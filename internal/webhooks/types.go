package webhooks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/rshade/apprunner-scale/internal/controlplane"
)

type EventKind string

const (
	KindCreate EventKind = "Create"
	KindUpdate EventKind = "Update"
	KindDelete EventKind = "Delete"
)

const (
	// PhysicalResourceID is the stable id reported for every event.
	PhysicalResourceID = "AutoScalingConfiguration"
	// DataKeyARN carries the configuration ARN back to the template.
	DataKeyARN = "AutoScalingConfigurationArn"
)

// Resource property names of Custom::AutoScalingConfiguration.
const (
	PropName           = "AutoScalingConfigurationName"
	PropMaxConcurrency = "MaxConcurrency"
	PropMaxSize        = "MaxSize"
	PropMinSize        = "MinSize"
	PropStackName      = "StackName"
)

// ErrInvalidProperties is returned when resource properties cannot be used.
var ErrInvalidProperties = errors.New("invalid resource properties")

// LifecycleEvent is one Create, Update or Delete of the autoscaling configuration.
type LifecycleEvent struct {
	Kind EventKind

	// Name of the autoscaling configuration.
	ResourceName string

	// Desired sizing. Not validated for Delete.
	Parameters controlplane.Parameters

	// Stack whose exports list the services using the configuration.
	StackName string
}

// Result is what the orchestration platform records for the resource.
type Result struct {
	PhysicalID string
	Data       map[string]string
}

// NewResult builds a Result, with the ARN when there is one.
func NewResult(arn string) Result {
	data := map[string]string{}
	if arn != "" {
		data[DataKeyARN] = arn
	}
	return Result{PhysicalID: PhysicalResourceID, Data: data}
}

// Request pairs an event with the callback that receives its outcome.
type Request struct {
	Event   LifecycleEvent
	Respond func(Result, error)

	// Source is "sns", "api" or "lambda"; logged only.
	Source string
}

// CustomResourceRequest is the CloudFormation custom resource request body.
type CustomResourceRequest struct {
	RequestType           EventKind              `json:"RequestType"`
	RequestID             string                 `json:"RequestId"`
	ResponseURL           string                 `json:"ResponseURL"`
	ResourceType          string                 `json:"ResourceType"`
	LogicalResourceID     string                 `json:"LogicalResourceId"`
	PhysicalResourceID    string                 `json:"PhysicalResourceId,omitempty"`
	StackID               string                 `json:"StackId"`
	ServiceToken          string                 `json:"ServiceToken,omitempty"`
	ResourceProperties    map[string]interface{} `json:"ResourceProperties"`
	OldResourceProperties map[string]interface{} `json:"OldResourceProperties,omitempty"`
}

type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "SUCCESS"
	StatusFailed  ResponseStatus = "FAILED"
)

// CustomResourceResponse is the body PUT to the request's ResponseURL.
type CustomResourceResponse struct {
	Status             ResponseStatus    `json:"Status"`
	Reason             string            `json:"Reason,omitempty"`
	PhysicalResourceID string            `json:"PhysicalResourceId"`
	StackID            string            `json:"StackId"`
	RequestID          string            `json:"RequestId"`
	LogicalResourceID  string            `json:"LogicalResourceId"`
	NoEcho             bool              `json:"NoEcho,omitempty"`
	Data               map[string]string `json:"Data,omitempty"`
}

// NewResponse answers req with the reconcile outcome.
func NewResponse(req CustomResourceRequest, res Result, err error) CustomResourceResponse {
	resp := CustomResourceResponse{
		Status:             StatusSuccess,
		PhysicalResourceID: res.PhysicalID,
		StackID:            req.StackID,
		RequestID:          req.RequestID,
		LogicalResourceID:  req.LogicalResourceID,
		Data:               res.Data,
	}
	if resp.PhysicalResourceID == "" {
		// CloudFormation rejects a response without one; keep the id it already knows.
		resp.PhysicalResourceID = req.PhysicalResourceID
	}
	if resp.PhysicalResourceID == "" {
		resp.PhysicalResourceID = PhysicalResourceID
	}
	if err != nil {
		resp.Status = StatusFailed
		resp.Reason = err.Error()
		resp.Data = nil
	}
	return resp
}

// Event converts the request into a LifecycleEvent.
func (r CustomResourceRequest) Event() (LifecycleEvent, error) {
	return ParseEvent(r.RequestType, r.ResourceProperties)
}

// ParseEvent builds a LifecycleEvent from resource properties. CloudFormation
// sends every property as a string; numbers are accepted as well.
func ParseEvent(kind EventKind, props map[string]interface{}) (LifecycleEvent, error) {
	switch kind {
	case KindCreate, KindUpdate, KindDelete:
	default:
		return LifecycleEvent{}, fmt.Errorf("%w: unknown request type %q", ErrInvalidProperties, kind)
	}

	ev := LifecycleEvent{
		Kind:         kind,
		ResourceName: cast.ToString(props[PropName]),
		StackName:    cast.ToString(props[PropStackName]),
	}
	if ev.ResourceName == "" {
		return ev, fmt.Errorf("%w: %s is required", ErrInvalidProperties, PropName)
	}
	if ev.StackName == "" {
		return ev, fmt.Errorf("%w: %s is required", ErrInvalidProperties, PropStackName)
	}

	var err error
	if ev.Parameters.MaxConcurrency, err = intProp(props, PropMaxConcurrency); err != nil && kind != KindDelete {
		return ev, err
	}
	if ev.Parameters.MaxSize, err = intProp(props, PropMaxSize); err != nil && kind != KindDelete {
		return ev, err
	}
	if ev.Parameters.MinSize, err = intProp(props, PropMinSize); err != nil && kind != KindDelete {
		return ev, err
	}
	if kind == KindDelete {
		return ev, nil
	}
	if err := ev.Parameters.Validate(); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}
	return ev, nil
}

func intProp(props map[string]interface{}, key string) (int, error) {
	raw, ok := props[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidProperties, key)
	}
	var v int
	var err error
	if s, isString := raw.(string); isString {
		// Base 10 only; cast would read "010" as octal.
		v, err = strconv.Atoi(strings.TrimSpace(s))
	} else {
		v, err = cast.ToIntE(raw)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidProperties, key, err)
	}
	return v, nil
}
