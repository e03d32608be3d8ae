package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/second-state/echokit-box/adapters/audio"
	"github.com/second-state/echokit-box/adapters/wake"
	"github.com/second-state/echokit-box/domain/entities"
	"github.com/second-state/echokit-box/domain/repositories"
	internalaudio "github.com/second-state/echokit-box/internal/audio"
	"github.com/second-state/echokit-box/internal/display"
	"github.com/second-state/echokit-box/internal/playback"
	"github.com/second-state/echokit-box/internal/provisioning"
	"github.com/second-state/echokit-box/internal/report"
	"github.com/second-state/echokit-box/internal/stream"
	"github.com/second-state/echokit-box/usecase"

	displayadapter "github.com/second-state/echokit-box/adapters/display"
)

var (
	flagPortalAddr   string
	flagBLEName      string
	flagNoBLE        bool
	flagWakeEncoder  string
	flagWakeDecoder  string
	flagWakeJoiner   string
	flagWakeTokens   string
	flagWakeKeywords string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device loop",
	Long: `Run the full device loop: capture microphone audio, gate it on the
wake phrase, stream sessions to the provisioned backend and play the
response. The provisioning surfaces stay reachable the whole time, so the
device can be re-provisioned without stopping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevice(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&flagPortalAddr, "portal-addr", ":8080", "captive portal listen address")
	runCmd.Flags().StringVar(&flagBLEName, "ble-name", "EchoKit", "BLE advertising name")
	runCmd.Flags().BoolVar(&flagNoBLE, "no-ble", false, "skip the BLE provisioning surface")
	runCmd.Flags().StringVar(&flagWakeEncoder, "wake-encoder", os.Getenv("ECHOKIT_WAKE_ENCODER"), "keyword spotter encoder model")
	runCmd.Flags().StringVar(&flagWakeDecoder, "wake-decoder", os.Getenv("ECHOKIT_WAKE_DECODER"), "keyword spotter decoder model")
	runCmd.Flags().StringVar(&flagWakeJoiner, "wake-joiner", os.Getenv("ECHOKIT_WAKE_JOINER"), "keyword spotter joiner model")
	runCmd.Flags().StringVar(&flagWakeTokens, "wake-tokens", os.Getenv("ECHOKIT_WAKE_TOKENS"), "keyword spotter token table")
	runCmd.Flags().StringVar(&flagWakeKeywords, "wake-keywords", os.Getenv("ECHOKIT_WAKE_KEYWORDS"), "keyword spotter keywords file")
}

func runDevice(parent context.Context) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	profile, err := loadProfile()
	if err != nil {
		return err
	}
	logger.Info("board profile selected",
		zap.String("name", profile.Name),
		zap.Int("sample_rate", profile.SampleRate),
		zap.Int("frame_samples", profile.FrameSamples))

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := wake.NewSherpa(wake.SherpaConfig{
		Encoder:      flagWakeEncoder,
		Decoder:      flagWakeDecoder,
		Joiner:       flagWakeJoiner,
		Tokens:       flagWakeTokens,
		KeywordsFile: flagWakeKeywords,
		SampleRate:   profile.SampleRate,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capture := audio.NewCapture(profile.SampleRate, profile.FrameSamples)
	newSink := playback.NewSinkFactory(func() repositories.PlaybackDevice {
		return audio.NewPlayback(profile.SampleRate, profile.FrameSamples)
	}, playback.DefaultStallTimeout, logger)
	panel := displayadapter.NewTerminal(os.Stdout, profile.DisplayColumns)
	defer panel.Close()
	presenter := display.NewPresenter(panel, logger)

	prov := provisioning.NewService(store, logger)
	client := stream.NewClient(logger)

	var controller *usecase.SessionController
	stateFn := func() entities.DeviceState {
		if controller == nil {
			return entities.StateBooting
		}
		return controller.State()
	}

	source := internalaudio.NewSource(capture, profile.FrameSamples, profile.CaptureQueue, logger)
	gate := internalaudio.NewGate(engine, stateFn, logger)

	controller = usecase.NewSessionController(usecase.ControllerConfig{
		Store:        store,
		Provisioning: prov,
		Client:       client,
		NewSink: func() usecase.Player { return newSink() },
		Display: presenter,
		Wake:    gate.Wake(),
		Frames:  gate.Frames(),
	}, logger)

	portal := provisioning.NewPortal(prov, controller.State, controller.RequestReprovision, Version, logger)
	go func() {
		if err := portal.Start(ctx, flagPortalAddr); err != nil {
			logger.Error("captive portal failed", zap.Error(err))
		}
	}()

	if !flagNoBLE {
		ble := provisioning.NewBLEServer(prov, flagBLEName, logger)
		if err := ble.Start(ctx); err != nil {
			// A host without BlueZ still provisions over the portal.
			logger.Warn("ble provisioning unavailable", zap.Error(err))
		} else {
			defer ble.Stop()
		}
	}

	// Best-effort firmware report once we know the backend.
	if id, err := provisioning.LoadIdentity(ctx, store); err == nil {
		go func() {
			r := report.NewReporter(logger)
			if err := r.Report(ctx, id.BackendAddress, deviceID(), macAddress(), Version); err != nil {
				logger.Warn("firmware report failed", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("capture stopped", zap.Error(err))
			stop()
		}
	}()
	go gate.Run(ctx, source.Frames())

	logger.Info("device loop starting",
		zap.String("device_id", deviceID()),
		zap.String("version", Version))
	err = controller.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("device loop stopped")
		return nil
	}
	return err
}
