package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leemit/actor-framework/protocol"
)

func Test_Service_Schedule(t *testing.T) {
	assert := assert.New(t)

	service := NewService(NewServiceConfig())
	defer service.Close()

	tag := protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 7}
	service.Schedule(0, tag)

	ctx, cancelCtx := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancelCtx()

	fired, err := service.Next(ctx)
	assert.NoError(err)
	assert.Equal(tag, fired)

	_, ok := service.TryNext()
	assert.False(ok)
}

func Test_Service_FiresNoEarlierThanDelay(t *testing.T) {
	assert := assert.New(t)

	service := NewService(NewServiceConfig())
	defer service.Close()

	delay := 50 * time.Millisecond
	start := time.Now()
	service.Schedule(delay, protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 1})

	ctx, cancelCtx := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancelCtx()

	_, err := service.Next(ctx)
	assert.NoError(err)
	assert.GreaterOrEqual(time.Since(start), delay)
}

func Test_Recording_Schedule(t *testing.T) {
	assert := assert.New(t)

	recording := NewRecording()

	recording.Schedule(time.Second, protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 1})
	recording.Schedule(2*time.Second, protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 2})

	assert.Equal(
		[]ScheduledTag{
			{Delay: time.Second, Tag: protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 1}},
			{Delay: 2 * time.Second, Tag: protocol.Tag{Kind: protocol.TagKindOrdering, Seq: 2}},
		},
		recording.Scheduled,
	)
}
