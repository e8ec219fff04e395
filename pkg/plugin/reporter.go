package plugin

import (
	"context"

	"firestige.xyz/buffwatch/internal/core"
)

// Reporter publishes decoded buff events to an external system.
type Reporter interface {
	Plugin
	Report(ctx context.Context, evt *core.BuffEvent) error
	Flush(ctx context.Context) error
}

// PayloadReporter is an optional interface for reporters that want the raw
// event-list bytes of each AOI delta before they are decoded.
type PayloadReporter interface {
	Reporter
	ReportPayload(ctx context.Context, p *core.BuffPayload) error
}
