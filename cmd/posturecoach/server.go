package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/swdee/go-posturecoach/pipeline"
	"github.com/swdee/go-posturecoach/render"
	"gocv.io/x/gocv"
)

// server shows the annotated camera feed and controls the session
type server struct {
	engine   *pipeline.Engine
	banner   *render.Banner
	interval time.Duration

	// frame is a copy of the last camera frame
	mu       sync.Mutex
	frame    gocv.Mat
	hasFrame bool
}

func newServer(engine *pipeline.Engine, banner *render.Banner, interval time.Duration) *server {
	return &server{
		engine:   engine,
		banner:   banner,
		interval: interval,
		frame:    gocv.NewMat(),
	}
}

// Submit keeps the frame for display then offers it to the pipeline
func (s *server) Submit(img gocv.Mat) bool {

	s.mu.Lock()
	img.CopyTo(&s.frame)
	s.hasFrame = true
	s.mu.Unlock()

	return s.engine.Submit(img)
}

func (s *server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.Close()
}

func (s *server) routes() http.Handler {

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/stream", s.stream)
	r.Get("/status", s.status)
	r.Get("/stats", s.stats)

	r.Route("/session", func(r chi.Router) {
		r.Post("/start", s.start)
		r.Post("/stop", s.stop)
	})

	return r
}

// current returns a copy of the last frame
func (s *server) current() (gocv.Mat, bool) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasFrame {
		return gocv.Mat{}, false
	}

	return s.frame.Clone(), true
}

// annotate draws the overlays and encodes the frame as a JPG
func (s *server) annotate(img *gocv.Mat) (*gocv.NativeByteBuffer, error) {

	render.Trail(img, s.engine.History(), render.DefaultTrailStyle())

	if kp, ok := s.engine.Keypoints(); ok {
		render.Skeleton(img, kp, render.DefaultSkeletonStyle())
	}

	if s.banner != nil {
		if err := s.banner.Draw(img, s.engine.Status()); err != nil {
			return nil, err
		}
	}

	return gocv.IMEncode(gocv.JPEGFileExt, *img)
}

// stream serves the annotated feed as MJPEG
func (s *server) stream(w http.ResponseWriter, r *http.Request) {

	log.Printf("New client connection established")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("Client disconnected")
			return

		case <-ticker.C:
			img, ok := s.current()

			if !ok {
				continue
			}

			buf, err := s.annotate(&img)
			img.Close()

			if err != nil {
				log.Printf("Error annotating frame: %v", err)
				continue
			}

			w.Write([]byte("--frame\r\n"))
			w.Write([]byte("Content-Type: image/jpeg\r\n\r\n"))
			w.Write(buf.GetBytes())
			w.Write([]byte("\r\n"))
			buf.Close()

			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *server) start(w http.ResponseWriter, r *http.Request) {

	id := s.engine.Start()

	writeJSON(w, http.StatusOK, map[string]string{
		"session": id,
		"state":   s.engine.State().String(),
	})
}

func (s *server) stop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.engine.State().String()})
}
