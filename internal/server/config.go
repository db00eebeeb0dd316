package server

import "github.com/raysh454/miru/internal/logging"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// Logger is optional; a default StdoutLogger is used when nil.
	Logger logging.Logger
}
