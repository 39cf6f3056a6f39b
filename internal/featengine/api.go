package featengine

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"stock-evalv1/internal/indicator"
	"stock-evalv1/internal/metrics"
)

// startHTTP launches the HTTP server exposing /metrics, /healthz, /reload
// and the /ws feature stream.
func (svc *Service) startHTTP(ctx context.Context) {
	svc.httpSrv = metrics.NewServer(svc.cfg.HTTPAddr, svc.health)
	svc.httpSrv.Handle("/reload", http.HandlerFunc(svc.handleReload))
	svc.httpSrv.Handle("/ws", http.HandlerFunc(svc.hub.ServeWS))
	svc.httpSrv.Start()
	log.Printf("[featengine] HTTP server on %s (/metrics, /healthz, /reload, /ws)", svc.cfg.HTTPAddr)
}

// handleReload handles POST /reload for live indicator config updates.
// Body: JSON array of definitions, e.g. [{"type":"EMA","period":20}].
// Warm state is preserved for definitions present in both sets.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var newDefs []indicator.Definition
	if err := json.NewDecoder(r.Body).Decode(&newDefs); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := indicator.ValidateDefinitions(newDefs); err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}

	svc.engineMu.Lock()
	preserved, created, err := svc.engine.ReloadDefinitions(newDefs)
	svc.engineMu.Unlock()
	if err != nil {
		http.Error(w, "reload: "+err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("[featengine] reloaded: preserved=%d, created=%d", preserved, created)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// startConfigSubscriber listens on Redis pubsub for indicator spec updates.
// Payload format matches INDICATOR_CONFIGS: "EMA:20,RSI:14,BOLL:20:2".
func (svc *Service) startConfigSubscriber(ctx context.Context) {
	go func() {
		pubsub := svc.redisReader.SubscribeChannel(ctx, "config:indicators")
		defer pubsub.Close()
		log.Println("[featengine] subscribed to config:indicators for dynamic reload")

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				log.Printf("[featengine] received config update: %s", msg.Payload)
				newDefs := ParseDefinitionSpecs(msg.Payload)

				svc.engineMu.Lock()
				preserved, created, err := svc.engine.ReloadDefinitions(newDefs)
				svc.engineMu.Unlock()
				if err != nil {
					log.Printf("[featengine] invalid config update: %v", err)
					continue
				}
				log.Printf("[featengine] reloaded: preserved=%d, created=%d", preserved, created)
			}
		}
	}()
}
