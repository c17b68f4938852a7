package dedupe

// WithClock exposes withClock to the external test package.
var WithClock = withClock
