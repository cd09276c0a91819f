package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	tracers := map[string]*Tracer{
		"nil":      nil,
		"disabled": NewTracer("policyhub", false),
	}
	for name, tracer := range tracers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got, seg := tracer.StartSubsegment(ctx, "op")
			assert.Nil(t, seg)
			assert.Equal(t, ctx, got)

			boom := errors.New("boom")
			err := tracer.TraceFunction(ctx, "op", func(context.Context) error { return boom })
			assert.ErrorIs(t, err, boom)

			tracer.AddAnnotation(ctx, "k", "v")
			tracer.AddMetadata(ctx, "k", 1)
			tracer.RecordError(ctx, boom)
		})
	}
}

func TestEnabledTracerWithoutParentSegment(t *testing.T) {
	tracer := NewTracer("policyhub", true)

	ctx, seg := tracer.StartSubsegment(context.Background(), "op")

	assert.Nil(t, seg)
	assert.NotNil(t, ctx)
}
