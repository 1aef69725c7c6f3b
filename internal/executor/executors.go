package executor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/caesar-terminal/swapdesk/internal/swap"
)

// Executor is a swap.Executor that seals each summary and hands it
// straight to a sink, for deployments without a separate executor
// process.
type Executor struct {
	signer Signer
	sink   Sink
	newID  func() string
}

var (
	_ swap.Executor = (*Executor)(nil)
	_ swap.Executor = (*Client)(nil)
)

// NewLocal creates an in-process executor. s may be nil, in which case
// envelopes are unsigned.
func NewLocal(s Signer, sink Sink) *Executor {
	return &Executor{signer: s, sink: sink, newID: uuid.NewString}
}

// NewLog creates an in-process executor that only logs exchanges.
func NewLog(s Signer, logger *slog.Logger) *Executor {
	return NewLocal(s, LogSink{Logger: logger})
}

// NewKafka creates an in-process executor that publishes exchanges to
// Kafka.
func NewKafka(s Signer, w MessageWriter) *Executor {
	return NewLocal(s, NewKafkaSink(w))
}

func (e *Executor) Execute(ctx context.Context, summary swap.ExchangeSummary) error {
	env, err := Seal(summary, e.signer)
	if err != nil {
		return err
	}
	return e.sink.Accept(ctx, e.newID(), env)
}
