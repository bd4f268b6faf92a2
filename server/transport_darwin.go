//go:build darwin
// +build darwin

package main

import (
	"fmt"

	"github.com/Clouded-Sabre/Tun-TCP/config"
	"github.com/Clouded-Sabre/Tun-TCP/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
)

// openTransport always uses the raw socket core; pf keeps the kernel from
// answering the same segments with RSTs.
func openTransport(app *config.AppSettings, localIP string) (lib.Transport, *rs.RSCore, error) {
	if app.Transport != "" && app.Transport != config.TransportRawSocket {
		return nil, nil, fmt.Errorf("transport %q is not available on darwin", app.Transport)
	}
	return openRawSocket(localIP)
}
