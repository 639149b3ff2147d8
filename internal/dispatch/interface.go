package dispatch

import "context"

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/mattjoyce/macrogw/internal/dispatch Notifier,MacroRepository

// Notifier delivers an outcome to an outbound webhook.
type Notifier interface {
	Notify(ctx context.Context, url string, payload any) error
}

// MacroRepository resolves macro names to their artifacts.
type MacroRepository interface {
	Lookup(name string) (string, error)
}
