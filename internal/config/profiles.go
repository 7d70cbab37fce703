package config

import (
	_ "github.com/fintrack/cachehub/internal/swmodule/multitier"
	_ "github.com/fintrack/cachehub/internal/swmodule/static"
)
