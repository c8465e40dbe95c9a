// Package sfnclient talks to AWS Step Functions: it fetches execution
// histories for resolution and starts the executions that resume them.
package sfnclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/KamdynS/sfnresume/history"
)

// API is the subset of the Step Functions client used here.
type API interface {
	GetExecutionHistory(ctx context.Context, in *sfn.GetExecutionHistoryInput, optFns ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error)
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// Client wraps the Step Functions API.
type Client struct {
	api API
}

// New constructs a Client using the default AWS config chain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if awscfg.Region == "" {
		awscfg.Region = DefaultRegion
	}
	api := sfn.NewFromConfig(awscfg, func(o *sfn.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(api), nil
}

// NewFromClient constructs a Client from an existing API implementation.
func NewFromClient(api API) *Client {
	return &Client{api: api}
}

// GetExecutionHistory fetches the history of an execution. Only the first
// page is read.
func (c *Client) GetExecutionHistory(ctx context.Context, executionARN string) (*history.History, error) {
	out, err := c.api.GetExecutionHistory(ctx, &sfn.GetExecutionHistoryInput{
		ExecutionArn:         aws.String(executionARN),
		IncludeExecutionData: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("sfn GetExecutionHistory %s: %w", executionARN, err)
	}
	h := &history.History{Events: make([]history.Event, 0, len(out.Events))}
	for _, e := range out.Events {
		h.Events = append(h.Events, convertEvent(e))
	}
	return h, nil
}

func convertEvent(e sfntypes.HistoryEvent) history.Event {
	ev := history.Event{
		ID:              e.Id,
		PreviousEventID: e.PreviousEventId,
		Type:            history.EventType(e.Type),
	}
	if e.Timestamp != nil {
		ev.Timestamp = *e.Timestamp
	}
	if d := e.StateEnteredEventDetails; d != nil {
		ev.StateEntered = &history.StateEnteredDetails{
			Name:  aws.ToString(d.Name),
			Input: aws.ToString(d.Input),
		}
	}
	if d := e.TaskFailedEventDetails; d != nil {
		ev.TaskFailed = &history.FailureDetails{Error: aws.ToString(d.Error), Cause: aws.ToString(d.Cause)}
	}
	if d := e.LambdaFunctionFailedEventDetails; d != nil {
		ev.LambdaFunctionFailed = &history.FailureDetails{Error: aws.ToString(d.Error), Cause: aws.ToString(d.Cause)}
	}
	if d := e.ExecutionFailedEventDetails; d != nil {
		ev.ExecutionFailed = &history.FailureDetails{Error: aws.ToString(d.Error), Cause: aws.ToString(d.Cause)}
	}
	return ev
}

// StartExecution starts stateMachineARN with input and returns the new
// execution's ARN. An empty name lets Step Functions generate one.
func (c *Client) StartExecution(ctx context.Context, stateMachineARN, name, input string) (string, error) {
	in := &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineARN),
		Input:           aws.String(input),
	}
	if name != "" {
		in.Name = aws.String(name)
	}
	out, err := c.api.StartExecution(ctx, in)
	if err != nil {
		return "", fmt.Errorf("sfn StartExecution %s: %w", stateMachineARN, err)
	}
	return aws.ToString(out.ExecutionArn), nil
}

// StateMachineARN derives the state machine ARN from an execution ARN of the
// form arn:<partition>:states:<region>:<account>:execution:<machine>:<name>.
func StateMachineARN(executionARN string) (string, error) {
	parts := strings.Split(executionARN, ":")
	if len(parts) < 8 || parts[0] != "arn" || parts[2] != "states" || parts[5] != "execution" || parts[6] == "" {
		return "", fmt.Errorf("not a Step Functions execution ARN: %q", executionARN)
	}
	out := append([]string{}, parts[:5]...)
	out = append(out, "stateMachine", parts[6])
	return strings.Join(out, ":"), nil
}
