package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E199)
	// ============================================

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file unreadable",
		Suggestion: "Check the path passed with --config and the file permissions",
	},
	"E101": {
		Category:   CategoryConfig,
		Message:    "Invalid config syntax",
		Suggestion: "Validate the file with a JSON linter",
	},
	"E102": {
		Category:   CategoryConfig,
		Message:    "Remote API URL missing",
		Suggestion: "Set url in sessionbridge.json or the DIRECTUS_URL environment variable",
	},
	"E103": {
		Category:   CategoryConfig,
		Message:    "Invalid auth mode",
		Suggestion: `Use one of "json", "cookie" or "session"`,
	},
	"E104": {
		Category:   CategoryConfig,
		Message:    "Invalid cookie SameSite value",
		Suggestion: `Use one of "lax", "strict" or "none"`,
	},
	"E105": {
		Category:   CategoryConfig,
		Message:    "Insecure cookie configuration",
		Suggestion: `SameSite "none" requires cookieSecure: true`,
	},
	"E106": {
		Category:   CategoryConfig,
		Message:    "Invalid path",
		Suggestion: `Paths must start with "/"`,
	},
	"E107": {
		Category:   CategoryConfig,
		Message:    "Invalid guard",
		Suggestion: "Each guard needs a name and a redirectTo path",
	},
	"E108": {
		Category:   CategoryConfig,
		Message:    "Invalid store backend",
		Suggestion: `Use "memory", "redis" or "postgres" for snapshots, "memory", "redis" or "none" for the cache, "disk" or "s3" for uploads`,
	},
	"E109": {
		Category:   CategoryConfig,
		Message:    "Missing backend setting",
		Suggestion: "Redis backends need redisAddr, postgres needs databaseURL, s3 needs bucket and region",
	},
	"E110": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Suggestion: `Durations use Go syntax, for example "30s" or "5m", and must be positive`,
	},
	"E111": {
		Category:   CategoryConfig,
		Message:    "Invalid environment override",
		Suggestion: "Check the SESSIONBRIDGE_* and DIRECTUS_* variables",
	},
	"E112": {
		Category:   CategoryConfig,
		Message:    "Invalid log setting",
		Suggestion: `level is one of debug, info, warn, error; format is "json" or "text"`,
	},
	"E113": {
		Category:   CategoryConfig,
		Message:    "Unknown route guard",
		Suggestion: "routeGuards names must match the middlewareName of an enabled guard",
	},
	"E114": {
		Category:   CategoryConfig,
		Message:    "Guard never runs",
		Suggestion: "Set global: true or attach the guard to routes under moduleConfig.routeGuards",
	},

	// ============================================
	// CLI Errors (E200-E299)
	// ============================================

	"E200": {
		Category:   CategoryCLI,
		Message:    "Server failed to start",
		Suggestion: "Check that the address is free and the backends are reachable",
	},
	"E201": {
		Category:   CategoryCLI,
		Message:    "Backend unreachable",
		Suggestion: "Check redisAddr or the S3 endpoint",
	},
	"E202": {
		Category:   CategoryCLI,
		Message:    "Shutdown timed out",
		Suggestion: "Raise server.shutdownTimeout or close long-lived pages sooner",
	},
}

// Register adds or replaces an error template.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}

// Lookup returns the template for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
