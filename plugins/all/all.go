// Package all links every optional component into the daemon.
package all

import (
	_ "github.com/veesix-networks/osvlease/internal/gateway"
	_ "github.com/veesix-networks/osvlease/plugins/exporter/prometheus"
)
