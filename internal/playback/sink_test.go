package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/second-state/echokit-box/adapters/audio"
	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
)

func TestSinkPlaysChunksInArrivalOrder(t *testing.T) {
	device := audio.NewPipePlayback()
	sink := NewSink(device, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	// Two chunks: samples 1,2 then 3,4 (little-endian).
	sink.Enqueue([]byte{0x01, 0x00, 0x02, 0x00})
	sink.Enqueue([]byte{0x03, 0x00, 0x04, 0x00})
	sink.Finish()

	select {
	case err := <-sink.Done():
		if err != nil {
			t.Fatalf("Expected completion, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for completion")
	}

	written := device.Written()
	if len(written) != 2 {
		t.Fatalf("Expected 2 rendered chunks, got %d", len(written))
	}
	if written[0][0] != 1 || written[0][1] != 2 {
		t.Errorf("First chunk out of order: %v", written[0])
	}
	if written[1][0] != 3 || written[1][1] != 4 {
		t.Errorf("Second chunk out of order: %v", written[1])
	}
}

func TestSinkToleratesBriefUnderrun(t *testing.T) {
	device := audio.NewPipePlayback()
	sink := NewSink(device, 500*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.Enqueue([]byte{0x01, 0x00})
	// Gap shorter than the stall timeout: silence, not an error.
	time.Sleep(150 * time.Millisecond)
	sink.Enqueue([]byte{0x02, 0x00})
	sink.Finish()

	select {
	case err := <-sink.Done():
		if err != nil {
			t.Fatalf("Expected brief underrun to be tolerated, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for completion")
	}
	if len(device.Written()) != 2 {
		t.Errorf("Expected both chunks rendered, got %d", len(device.Written()))
	}
}

func TestSinkWaitsForFirstChunkPastStallTimeout(t *testing.T) {
	device := audio.NewPipePlayback()
	sink := NewSink(device, 100*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	// The backend is still composing its response: no audio yet, well past
	// the stall timeout. The session is healthy and must stay alive.
	time.Sleep(300 * time.Millisecond)
	select {
	case err := <-sink.Done():
		t.Fatalf("Sink gave up before any audio arrived: %v", err)
	default:
	}

	sink.Enqueue([]byte{0x01, 0x00})
	sink.Finish()

	select {
	case err := <-sink.Done():
		if err != nil {
			t.Fatalf("Expected completion, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for completion")
	}
	if len(device.Written()) != 1 {
		t.Errorf("Expected the late chunk rendered, got %d", len(device.Written()))
	}
}

func TestSinkReportsStall(t *testing.T) {
	device := audio.NewPipePlayback()
	sink := NewSink(device, 100*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.Enqueue([]byte{0x01, 0x00})
	// Never finish, never send more audio.

	select {
	case err := <-sink.Done():
		if !errors.Is(err, entities.ErrPlaybackStall) {
			t.Fatalf("Expected ErrPlaybackStall, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for stall report")
	}
}

func TestSinkFactoryCreatesDevicePerSink(t *testing.T) {
	var devices []*audio.PipePlayback
	factory := NewSinkFactory(func() repositories.PlaybackDevice {
		d := audio.NewPipePlayback()
		devices = append(devices, d)
		return d
	}, time.Second, zap.NewNop())

	first := factory()
	second := factory()

	if first == second {
		t.Fatal("Factory returned the same sink twice")
	}
	if len(devices) != 2 {
		t.Fatalf("Expected one device per sink, got %d devices", len(devices))
	}
	if devices[0] == devices[1] {
		t.Error("Sinks share a playback device")
	}

	// One session finishing must not disturb the other's device.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go first.Run(ctx)
	go second.Run(ctx)
	first.Enqueue([]byte{0x01, 0x00})
	first.Finish()
	second.Enqueue([]byte{0x02, 0x00})
	second.Finish()
	for _, sink := range []*Sink{first, second} {
		select {
		case err := <-sink.Done():
			if err != nil {
				t.Errorf("Expected completion, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for completion")
		}
	}
	if len(devices[0].Written()) != 1 || len(devices[1].Written()) != 1 {
		t.Errorf("Expected one chunk per device, got %d and %d",
			len(devices[0].Written()), len(devices[1].Written()))
	}
}

func TestSinkFinishWithEmptyBufferCompletes(t *testing.T) {
	device := audio.NewPipePlayback()
	sink := NewSink(device, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.Finish()

	select {
	case err := <-sink.Done():
		if err != nil {
			t.Fatalf("Expected clean completion, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for completion")
	}
}
