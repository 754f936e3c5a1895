package aggregator_test

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupaco/controlunit/internal/aggregator"
)

func TestOnSampleAccumulatesRunningSum(t *testing.T) {
	var mu sync.Mutex
	var published []string

	a := aggregator.New(func(ctx context.Context, channel string, sum int64) error {
		mu.Lock()
		published = append(published, strconv.FormatInt(sum, 10))
		mu.Unlock()
		return nil
	}, nil)

	samples := []int64{1, 2, -3, -7, 32, 0, 0, 0, 18}
	channels := []string{"E1Channel", "E2Channel", "E3Channel"}

	for i, v := range samples {
		ch := channels[i%3]
		a.OnSample(context.Background(), ch, []byte(strconv.FormatInt(v, 10)))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 9)
	assert.Equal(t, []string{"1", "2", "-3", "-6", "34", "-3", "-6", "34", "15"}, published)

	assert.Equal(t, int64(-6), a.Sum("E1Channel"))
	assert.Equal(t, int64(34), a.Sum("E2Channel"))
	assert.Equal(t, int64(15), a.Sum("E3Channel"))
}

func TestOnSampleConcurrentPerEntitySequences(t *testing.T) {
	var mu sync.Mutex
	var count int

	a := aggregator.New(func(ctx context.Context, channel string, sum int64) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, nil)

	samples := []int64{1, 2, -3, -7, 32, 0, 0, 0, 18}
	channels := []string{"E1Channel", "E2Channel", "E3Channel"}

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			for _, v := range samples {
				a.OnSample(context.Background(), channel, []byte(strconv.FormatInt(v, 10)))
			}
		}(ch)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 27, count)

	for _, ch := range channels {
		assert.Equal(t, int64(9), a.SampleCount(ch))
		assert.Equal(t, int64(43), a.Sum(ch))
	}
}

func TestOnSampleDropsMalformedPayload(t *testing.T) {
	a := aggregator.New(nil, nil)
	a.OnSample(context.Background(), "c", []byte("not-a-number"))
	assert.Equal(t, int64(0), a.Sum("c"))
	assert.Equal(t, int64(0), a.SampleCount("c"))
}

func TestResetClearsChannel(t *testing.T) {
	a := aggregator.New(nil, nil)
	a.OnSample(context.Background(), "c", []byte("5"))
	assert.Equal(t, int64(5), a.Sum("c"))

	a.Reset("c")
	assert.Equal(t, int64(0), a.Sum("c"))
	assert.Equal(t, int64(0), a.SampleCount("c"))
}
