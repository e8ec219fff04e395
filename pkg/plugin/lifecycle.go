// Package plugin defines the plugin lifecycle and the capture/report extension points.
package plugin

import "context"

// Plugin is the base interface for all plugins.
//
// Lifecycle: factory() → Init(cfg) → Start(ctx) → ... → Stop(ctx).
type Plugin interface {
	Name() string
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
