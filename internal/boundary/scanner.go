package boundary

import (
	"context"
	"errors"
	"io"

	"github.com/attendo/kiosk-engine/internal/engine"

	"github.com/joeycumines/go-longpoll"
)

// ScannerAdapter drains a raw channel of scanned codes (QR/barcode
// reader output, per core/barcode_scanner.py) in small batches and
// submits each as a scanned identity event, in arrival order. Batched
// draining absorbs the burst a scanner produces when several badges are
// presented back to back without holding up the first one past
// cfg.PartialTimeout.
type ScannerAdapter struct {
	Codes  <-chan string
	Engine *engine.Engine
	Config *longpoll.ChannelConfig
}

// NewScannerAdapter wires a ScannerAdapter. cfg may be nil for
// longpoll's defaults (4-16 codes per batch, 50ms partial timeout).
func NewScannerAdapter(codes <-chan string, eng *engine.Engine, cfg *longpoll.ChannelConfig) *ScannerAdapter {
	return &ScannerAdapter{Codes: codes, Engine: eng, Config: cfg}
}

// Run blocks, submitting each drained batch of codes, until ctx is
// cancelled or Codes is closed.
func (s *ScannerAdapter) Run(ctx context.Context) error {
	for {
		err := longpoll.Channel(ctx, s.Config, s.Codes, func(code string) error {
			s.Engine.Submit(ctx, engine.NewScannedEvent(code))
			return nil
		})
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}
