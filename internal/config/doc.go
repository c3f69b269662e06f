// Package config loads the sessionbridge configuration.
//
// The configuration is stored in sessionbridge.json in the working
// directory. Every setting can be overridden from the environment, which is
// read after the file. The authConfig and moduleConfig blocks keep the
// names of the Nuxt module this server replaces.
//
// # Configuration File Structure
//
//	{
//	  "url": "https://cms.example.com",
//	  "authConfig": {
//	    "mode": "json",
//	    "cookieHttpOnly": true,
//	    "cookieSameSite": "lax",
//	    "authProxyPath": "/auth-proxy"
//	  },
//	  "moduleConfig": {
//	    "readMeQuery": {"fields": ["id", "email", "first_name"]},
//	    "autoRefresh": false,
//	    "loginRequiredMiddleware": {"publicPaths": ["/", "/login", "/blog/*"]}
//	  },
//	  "server": {"addr": ":8080", "shutdownTimeout": "15s"},
//	  "snapshots": {"backend": "redis", "redisAddr": "localhost:6379"},
//	  "uploads": {"backend": "s3", "bucket": "staging", "region": "eu-west-1"},
//	  "log": {"level": "info", "format": "json"}
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    errors.Fprint(os.Stderr, err)
//	    os.Exit(1)
//	}
package config
