package ingestion

import (
	"context"

	gasmodels "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Models"
	normalizer "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Normalizer"
)

// MessageProcessor persists broker messages. It is the subscriber's handler.
type MessageProcessor struct {
	recorder *Recorder
}

func NewMessageProcessor(recorder *Recorder) *MessageProcessor {
	return &MessageProcessor{recorder: recorder}
}

// HandleMessage decodes, validates and stores one message value. Errors are
// for the caller to log; the message is never retried here.
func (p *MessageProcessor) HandleMessage(ctx context.Context, value []byte) error {
	payload, err := normalizer.Decode(value)
	if err != nil {
		return err
	}

	reading, err := normalizer.Normalize(payload)
	if err != nil {
		return err
	}

	_, err = p.recorder.Record(ctx, reading, gasmodels.SourceBroker)
	return err
}
