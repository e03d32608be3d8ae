package audio

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	audioadapter "github.com/second-state/echokit-box/adapters/audio"
	"github.com/second-state/echokit-box/adapters/wake"
	"github.com/second-state/echokit-box/domain/entities"
)

func TestSourceDeliversFramesInOrder(t *testing.T) {
	capture := audioadapter.NewPipeCapture(32)
	source := NewSource(capture, 4, 16, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go source.Run(ctx)

	for i := 0; i < 5; i++ {
		capture.Feed([]int16{int16(i), int16(i), int16(i), int16(i)})
	}

	for want := uint32(0); want < 5; want++ {
		select {
		case frame := <-source.Frames():
			if frame.Seq != want {
				t.Fatalf("Expected seq %d, got %d", want, frame.Seq)
			}
			if len(frame.Samples) != 4 {
				t.Fatalf("Expected 4 samples, got %d", len(frame.Samples))
			}
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for frame %d", want)
		}
	}

	capture.Close()
	if source.Overruns() != 0 {
		t.Errorf("Expected no overruns, got %d", source.Overruns())
	}
}

func TestSourceDropsOldestOnOverrun(t *testing.T) {
	capture := audioadapter.NewPipeCapture(64)
	// Queue bound of 2 with nobody consuming.
	source := NewSource(capture, 1, 2, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go source.Run(ctx)

	for i := 0; i < 6; i++ {
		capture.Feed([]int16{int16(i)})
	}

	// Wait until the capture loop has drained everything we fed.
	deadline := time.Now().Add(time.Second)
	for source.Overruns() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := source.Overruns(); got != 4 {
		t.Fatalf("Expected 4 overruns, got %d", got)
	}

	// The two newest frames survive, oldest first.
	first := <-source.Frames()
	second := <-source.Frames()
	if first.Seq != 4 || second.Seq != 5 {
		t.Errorf("Expected frames 4 and 5 to survive, got %d and %d", first.Seq, second.Seq)
	}
	capture.Close()
}

func gateState(state entities.DeviceState) func() entities.DeviceState {
	return func() entities.DeviceState { return state }
}

func TestGateRaisesWakeWhileIdle(t *testing.T) {
	engine := wake.NewScripted()
	engine.FireOn(2)
	gate := NewGate(engine, gateState(entities.StateIdle), zap.NewNop())

	in := make(chan entities.AudioFrame, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gate.Run(ctx, in)

	for i := 0; i < 4; i++ {
		in <- entities.AudioFrame{Samples: []int16{0}, Seq: uint32(i)}
	}

	select {
	case <-gate.Wake():
	case <-time.After(time.Second):
		t.Fatal("Expected a wake event while idle")
	}
	if engine.Resets() != 1 {
		t.Errorf("Expected engine reset after consumed detection, got %d", engine.Resets())
	}
}

func TestGateSuppressesWakeDuringSession(t *testing.T) {
	for _, state := range []entities.DeviceState{entities.StateStreaming, entities.StateSpeaking} {
		t.Run(state.String(), func(t *testing.T) {
			engine := wake.NewScripted()
			engine.FireOn(0) // would fire immediately if classified
			gate := NewGate(engine, gateState(state), zap.NewNop())

			in := make(chan entities.AudioFrame, 8)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go gate.Run(ctx, in)

			for i := 0; i < 4; i++ {
				in <- entities.AudioFrame{Samples: []int16{0}, Seq: uint32(i)}
			}

			select {
			case <-gate.Wake():
				t.Fatal("Wake event raised during an active session")
			case <-time.After(100 * time.Millisecond):
			}
			if engine.Frames() != 0 {
				t.Errorf("Expected no frames classified, engine saw %d", engine.Frames())
			}
		})
	}
}

func TestGateForwardsFrames(t *testing.T) {
	gate := NewGate(wake.NewScripted(), gateState(entities.StateStreaming), zap.NewNop())

	in := make(chan entities.AudioFrame, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gate.Run(ctx, in)

	in <- entities.AudioFrame{Samples: []int16{7}, Seq: 42}

	select {
	case frame := <-gate.Frames():
		if frame.Seq != 42 {
			t.Errorf("Expected forwarded seq 42, got %d", frame.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected frame to be forwarded")
	}
}
