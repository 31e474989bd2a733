package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type dispatchFunc func(ctx context.Context, data []byte) error

func (f dispatchFunc) Dispatch(ctx context.Context, data []byte) error { return f(ctx, data) }

func TestPubSubHandler_ProcessAckDecision(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantAck bool
	}{
		{"success", nil, true},
		{"malformed", fmt.Errorf("%w: bad", ErrMalformedJob), true},
		{"unknown job", fmt.Errorf("%w: x", ErrUnknownJob), true},
		{"not configured", fmt.Errorf("%w: x", ErrJobNotConfigured), true},
		{"transient failure", errors.New("upstream down"), false},
		{"health check failed", fmt.Errorf("%w: 3/4", ErrHealthCheckFailed), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			h := &PubSubHandler{
				jobs: dispatchFunc(func(ctx context.Context, data []byte) error {
					got = data
					assert.NotNil(t, zerolog.Ctx(ctx))
					return tt.err
				}),
				logger: zerolog.Nop(),
			}

			ack := h.process(context.Background(), "m-1", time.Now(), []byte(`{"job_type":"x"}`))

			assert.Equal(t, tt.wantAck, ack)
			assert.Equal(t, `{"job_type":"x"}`, string(got))
		})
	}
}
