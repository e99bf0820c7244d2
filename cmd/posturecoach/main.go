// Command posturecoach watches a camera, classifies the posture of the person
// in view and speaks a correction whenever the stable posture changes.  The
// annotated feed is served as MJPEG at /stream and sessions are started and
// stopped over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/swdee/go-posturecoach/capture"
	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/classify/npuclassifier"
	"github.com/swdee/go-posturecoach/classify/workerclassifier"
	"github.com/swdee/go-posturecoach/config"
	"github.com/swdee/go-posturecoach/feedback"
	"github.com/swdee/go-posturecoach/feedback/espeak"
	"github.com/swdee/go-posturecoach/feedback/mqttsink"
	"github.com/swdee/go-posturecoach/npu"
	"github.com/swdee/go-posturecoach/pipeline"
	"github.com/swdee/go-posturecoach/pose"
	"github.com/swdee/go-posturecoach/pose/yolov8pose"
	"github.com/swdee/go-posturecoach/render"
)

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	cfgFile := flag.String("c", "", "YAML configuration file, defaults are used when not set")
	httpAddr := flag.String("a", "", "HTTP Address to run server on, format address:port, overrides config")
	vidFile := flag.String("v", "", "Video file to use instead of the camera, overrides config")
	describe := flag.Bool("d", false, "Describe the model tensors and exit")

	flag.Parse()

	cfg := config.Default()

	if *cfgFile != "" {
		var err error
		cfg, err = config.Load(*cfgFile)

		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
	}

	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	if *vidFile != "" {
		cfg.Capture.File = *vidFile
	}

	if err := npu.SetCPUAffinityByPlatform(cfg.NPU.Platform, npu.FastCores); err != nil {
		log.Printf("Failed to set CPU Affinity: %v", err)
	}

	if *describe {
		if err := describeModels(cfg); err != nil {
			log.Fatalf("Error describing models: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Error: %v", err)
	}
}

func describeModels(cfg *config.Config) error {

	files := []string{cfg.Pose.Model}

	if cfg.Classifier.Backend == "npu" {
		files = append(files, cfg.Classifier.Model)
	}

	for _, file := range files {
		rt, err := npu.NewRuntime(file, npu.CoreAuto)

		if err != nil {
			return err
		}

		log.Printf("Model: %s", file)
		err = rt.Describe(os.Stdout)
		rt.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

func run(ctx context.Context, cfg *config.Config) error {

	cores, err := npu.PlatformCores(cfg.NPU.Platform)

	if err != nil {
		return err
	}

	posePool, err := npu.NewPool(cfg.Pose.PoolSize, cfg.Pose.Model, cores)

	if err != nil {
		return err
	}

	defer posePool.Close()

	pcfg := yolov8pose.DefaultConfig()
	pcfg.Params.BoxThreshold = cfg.Pose.BoxThreshold
	pcfg.MinScore = cfg.Pose.MinKeypointScore
	extractor := yolov8pose.New(posePool, pcfg)

	classifier, closeClassifier, err := newClassifier(ctx, cfg, cores)

	if err != nil {
		return err
	}

	defer closeClassifier()

	orientation, err := pose.ParseOrientation(cfg.Capture.Orientation)

	if err != nil {
		return err
	}

	var sink feedback.StatusSink

	if cfg.MQTT.Broker != "" {
		ms := mqttsink.New(mqttsink.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
			Retain:   true,
		}, nil)

		if err := ms.Connect(ctx); err != nil {
			log.Printf("MQTT status publishing unavailable: %v", err)
		}

		defer ms.Disconnect()
		sink = ms
	}

	engine, err := pipeline.New(pipeline.Deps{
		Extractor:         extractor,
		Classifier:        classifier,
		Speaker:           espeak.New(cfg.Speech.Command, cfg.Speech.Voice, cfg.Speech.Rate),
		Sink:              sink,
		WindowCapacity:    cfg.WindowCapacity(),
		Orientation:       orientation,
		PoseTimeout:       cfg.PoseTimeout(),
		ClassifierTimeout: cfg.ClassifierTimeout(),
		MaxInFlight:       cfg.Classifier.MaxInFlight,
		Debounce:          cfg.DebounceDuration(),
		StartDelay:        cfg.StartDelay(),
	})

	if err != nil {
		return err
	}

	source, err := capture.Open(capture.Config{
		Device: cfg.Capture.Device,
		File:   cfg.Capture.File,
		RateHz: cfg.Capture.RateHz,
		Loop:   cfg.Capture.Loop,
	})

	if err != nil {
		return err
	}

	defer source.Close()

	banner, err := render.NewBanner(render.DefaultBannerSize)

	if err != nil {
		return err
	}

	defer banner.Close()

	srv := newServer(engine, banner, cfg.FrameInterval())
	defer srv.Close()

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)

	if err != nil {
		return err
	}

	log.Printf("Open browser and view video at http://%s/stream", cfg.HTTP.Addr)

	// every user of the source, banner and server frame has stopped when
	// serve returns, so the deferred Closes are safe
	return serve(ctx, ln, srv.routes(),
		func(ctx context.Context) {
			if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Pipeline stopped: %v", err)
			}
		},
		func(ctx context.Context) {
			err := source.Run(ctx, srv)

			if errors.Is(err, io.EOF) {
				log.Printf("Video ended")
			} else if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Capture stopped: %v", err)
			}
		},
	)
}

// shutdownTimeout bounds draining HTTP handlers on exit
const shutdownTimeout = 5 * time.Second

// serve runs the tasks and an HTTP server on ln until ctx is done or any of
// them stops.  It returns only after every task and request handler has
// returned.  Request contexts are cancelled on shutdown so long lived
// streams end.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, tasks ...func(context.Context)) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	for _, task := range tasks {
		wg.Add(1)

		go func(task func(context.Context)) {
			defer wg.Done()
			defer cancel()

			task(ctx)
		}(task)
	}

	httpSrv := &http.Server{
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	drained := make(chan struct{})

	go func() {
		defer close(drained)

		<-ctx.Done()

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()

		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	err := httpSrv.Serve(ln)

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	cancel()
	<-drained
	wg.Wait()

	if err != nil {
		return err
	}

	return ctx.Err()
}

// newClassifier builds the configured classifier backend and its cleanup
func newClassifier(ctx context.Context, cfg *config.Config, cores []npu.CoreMask) (classify.Classifier, func(), error) {

	switch cfg.Classifier.Backend {
	case "worker":
		w, err := workerclassifier.Start(ctx, cfg.Classifier.WorkerCommand, nil)

		if err != nil {
			return nil, nil, err
		}

		return w, func() { w.Close() }, nil

	default:
		c, pool, err := npuclassifier.Load(cfg.Classifier.Model, cfg.Classifier.Labels,
			cfg.WindowCapacity(), cfg.Classifier.PoolSize, cores)

		if err != nil {
			return nil, nil, err
		}

		return c, pool.Close, nil
	}
}
