package flows

import "context"

// EmitAuditFunc matches the engine's audit hook: event, success, user ID,
// cause and a lazily built metadata map.
type EmitAuditFunc = func(context.Context, string, bool, string, error, func() map[string]string)

func noopEmitAudit(context.Context, string, bool, string, error, func() map[string]string) {}

func noopMetricInc(int) {}

func matchNone(error) bool { return false }
