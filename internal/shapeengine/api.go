package shapeengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shapefinder/config"
	"shapefinder/internal/logger"
	"shapefinder/internal/metrics"
	"shapefinder/internal/shape"
	redisstore "shapefinder/internal/store/redis"
	"shapefinder/internal/tracker"
)

const (
	maxAnalyzeBody    = 8 << 20
	maxAnalyzeSamples = 200000
)

// startHTTP launches the HTTP server: /metrics and /healthz from the metrics
// package, everything else through the shape router.
func (svc *Service) startHTTP() {
	svc.server = metrics.NewServer(svc.cfg.HTTPAddr, svc.health, nil)
	svc.server.Mux.Handle("/", svc.router())
	svc.server.Start()
	log.Printf("[shapeengine] HTTP server on %s (/healthz, /metrics, /analyze, /detectors, /ws)", svc.cfg.HTTPAddr)
}

func (svc *Service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	var analyze chi.Router = r
	if svc.cfg.AnalyzeRPS > 0 {
		analyze = r.With(newIPLimiter(svc.cfg.AnalyzeRPS, svc.cfg.AnalyzeBurst).middleware)
	}
	analyze.Post("/analyze", svc.handleAnalyze)
	r.Get("/detectors", svc.handleDetectors)
	r.With(requireToken(svc.cfg.ControlSecret)).Post("/detectors/reset", svc.handleControl)
	r.Handle("/ws", svc.hub)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// analyzeRequest is the body of POST /analyze. Key and TF pick the
// per-instrument overrides; Config is applied last.
type analyzeRequest struct {
	Series []float64      `json:"series"`
	Key    string         `json:"key,omitempty"`
	TF     int            `json:"tf,omitempty"`
	Config *config.Params `json:"config,omitempty"`
}

type analyzeResponse struct {
	Config shape.Config `json:"config"`
	Lag    int          `json:"lag"`
	Guard  int          `json:"guard"`
	*shape.Result
}

// handleAnalyze runs a batch analysis of a posted series.
func (svc *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalyzeBody)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Series) == 0 {
		http.Error(w, "series is empty", http.StatusBadRequest)
		return
	}
	if len(req.Series) > maxAnalyzeSamples {
		http.Error(w, fmt.Sprintf("series longer than %d samples", maxAnalyzeSamples), http.StatusRequestEntityTooLarge)
		return
	}

	svc.engineMu.Lock()
	cfg := svc.cfg.Shape
	if req.Key != "" {
		cfg = svc.cfg.Overrides.Resolve(req.Key, req.TF, cfg)
	}
	svc.engineMu.Unlock()
	if req.Config != nil {
		cfg = req.Config.Apply(cfg)
	}

	res, err := shape.Analyze(req.Series, cfg)
	slog.Debug("analyze", append(logger.LogWithTrace(r.Context()), "samples", len(req.Series), "err", err)...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, shape.ErrInvalidConfig) || errors.Is(err, shape.ErrNonFinite) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Config: cfg,
		Lag:    cfg.Lag(),
		Guard:  cfg.Guard(),
		Result: res,
	})
}

// handleDetectors lists live detectors, optionally narrowed by ?tf= and ?key=.
func (svc *Service) handleDetectors(w http.ResponseWriter, r *http.Request) {
	tf, _ := strconv.Atoi(r.URL.Query().Get("tf"))
	key := r.URL.Query().Get("key")

	svc.engineMu.Lock()
	all := svc.engine.Detectors()
	svc.engineMu.Unlock()

	out := make([]tracker.DetectorInfo, 0, len(all))
	for _, d := range all {
		if tf != 0 && d.TF != tf {
			continue
		}
		if key != "" && d.Exchange+":"+d.Token != key {
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(out),
		"detectors": out,
	})
}

// controlCommand arrives on the config channel or POST /detectors/reset.
//
//	{"key":"NSE:2885","tf":300}   reset one detector (tf 0 = every TF)
//	{"action":"reload"}           re-read SHAPE_* and the override file
type controlCommand struct {
	Action string `json:"action,omitempty"`
	Key    string `json:"key,omitempty"`
	TF     int    `json:"tf,omitempty"`
}

type controlResult struct {
	Status    string `json:"status"`
	Reset     int    `json:"reset,omitempty"`
	Preserved int    `json:"preserved,omitempty"`
	Dropped   int    `json:"dropped,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

type controlRequest struct {
	cmd   controlCommand
	reply chan controlReply
}

type controlReply struct {
	res controlResult
	err error
}

// control applies cmd and replays the streams that warm the detectors it
// dropped. Once the process loop runs both happen on it, so no live candle
// reaches a dropped detector ahead of its history. The reply comes back
// after the drop, before the replay finishes.
func (svc *Service) control(ctx context.Context, cmd controlCommand) (controlResult, error) {
	if svc.controlCh == nil {
		res, warm, err := svc.applyCommand(cmd)
		if err == nil {
			svc.replayStreams(ctx, warm, "rewarm")
		}
		return res, err
	}
	req := controlRequest{cmd: cmd, reply: make(chan controlReply, 1)}
	select {
	case svc.controlCh <- req:
	case <-ctx.Done():
		return controlResult{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return controlResult{}, ctx.Err()
	}
}

// runControl serves one control request on the process loop.
func (svc *Service) runControl(ctx context.Context, req controlRequest) {
	res, warm, err := svc.applyCommand(req.cmd)
	req.reply <- controlReply{res: res, err: err}
	if err == nil {
		svc.replayStreams(ctx, warm, "rewarm")
	}
}

// applyCommand resets or reloads detectors. It returns the candle streams
// that should be replayed to warm the dropped detectors.
func (svc *Service) applyCommand(cmd controlCommand) (controlResult, []string, error) {
	switch strings.ToLower(cmd.Action) {
	case "", "reset":
		if cmd.Key == "" {
			return controlResult{}, nil, errors.New("reset needs a key")
		}
		svc.engineMu.Lock()
		n := svc.engine.Reset(cmd.Key, cmd.TF)
		svc.engineMu.Unlock()
		log.Printf("[shapeengine] reset %s tf=%d: %d detectors dropped", cmd.Key, cmd.TF, n)

		var warm []string
		for _, stream := range svc.streams {
			if strings.HasSuffix(stream, ":"+cmd.Key) &&
				(cmd.TF == 0 || strings.HasPrefix(stream, redisstore.CandleStream(cmd.TF, ""))) {
				warm = append(warm, stream)
			}
		}
		return controlResult{Status: "ok", Reset: n}, warm, nil

	case "reload":
		svc.engineMu.Lock()
		defer svc.engineMu.Unlock()
		next := svc.cfg
		if err := next.loadShape(); err != nil {
			return controlResult{}, nil, err
		}
		svc.cfg.Shape, svc.cfg.Overrides = next.Shape, next.Overrides
		preserved, dropped := svc.engine.Reload(next.Shape, next.Overrides)
		var warm []string
		if dropped > 0 {
			warm = svc.streams
		}
		return controlResult{Status: "ok", Preserved: preserved, Dropped: dropped}, warm, nil
	}
	return controlResult{}, nil, fmt.Errorf("%w %q", errUnknownCommand, cmd.Action)
}

// handleControl handles POST /detectors/reset with a controlCommand body.
func (svc *Service) handleControl(w http.ResponseWriter, r *http.Request) {
	var cmd controlCommand
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&cmd); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := svc.control(r.Context(), cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// startConfigSubscriber listens on Redis Pub/Sub for detector commands.
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, svc.cfg.ConfigChannel)
		if pubsub == nil {
			log.Printf("[shapeengine] WARNING: could not subscribe to %s", svc.cfg.ConfigChannel)
			return
		}
		defer pubsub.Close()
		log.Printf("[shapeengine] subscribed to %s for detector commands", svc.cfg.ConfigChannel)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				log.Printf("[shapeengine] received command: %s", msg.Payload)
				var cmd controlCommand
				if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
					log.Printf("[shapeengine] invalid command: %v", err)
					continue
				}
				res, err := svc.control(ctx, cmd)
				if err != nil {
					log.Printf("[shapeengine] command failed: %v", err)
					continue
				}
				log.Printf("[shapeengine] command applied: %+v", res)
			}
		}
	}()
}
