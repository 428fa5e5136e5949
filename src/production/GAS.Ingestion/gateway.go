package ingestion

import (
	"context"

	broker "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Broker"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
	metrics "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Metrics"
	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
	normalizer "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Normalizer"
)

// Gateway is the synchronous HTTP ingestion path: normalize, persist, then
// forward the raw payload to the broker on a best-effort basis.
type Gateway struct {
	recorder  *Recorder
	publisher broker.Forwarder
	logger    *logger.Logger
}

func NewGateway(recorder *Recorder, publisher broker.Forwarder, log *logger.Logger) *Gateway {
	return &Gateway{
		recorder:  recorder,
		publisher: publisher,
		logger:    log.WithComponent("gateway"),
	}
}

// Ingest returns nil once the reading is durably stored. Decode and
// validation failures are returned before anything is written; a store
// failure is returned as a *StoreError. Publish failures are only logged.
func (g *Gateway) Ingest(ctx context.Context, raw []byte) error {
	payload, err := normalizer.Decode(raw)
	if err != nil {
		g.recorder.CountRejected(gasmodels.SourceHTTP, metrics.OutcomeMalformed)
		return err
	}

	reading, err := normalizer.Normalize(payload)
	if err != nil {
		g.recorder.CountRejected(gasmodels.SourceHTTP, metrics.OutcomeInvalid)
		return err
	}

	stored, err := g.recorder.Record(ctx, reading, gasmodels.SourceHTTP)
	if err != nil {
		g.logger.Logger.Error().Err(err).Str("device_id", reading.DeviceID).Msg("Failed to store reading")
		return err
	}

	g.logger.Logger.Debug().Str("id", stored.ID).Str("device_id", stored.DeviceID).Msg("Reading stored")

	// Best effort: the store already holds the reading.
	if result := g.publisher.Publish(ctx, raw); result.Failed() {
		g.logger.Logger.Warn().Err(result.Err()).Str("id", stored.ID).Msg("Failed to forward reading to broker")
	}
	return nil
}
