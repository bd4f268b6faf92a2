//go:build linux
// +build linux

package main

import (
	"fmt"

	"github.com/Clouded-Sabre/Tun-TCP/config"
	"github.com/Clouded-Sabre/Tun-TCP/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
)

// openTransport opens the TUN device unless a raw socket is asked for.
func openTransport(app *config.AppSettings, localIP string) (lib.Transport, *rs.RSCore, error) {
	switch app.Transport {
	case "", config.TransportTun:
	case config.TransportRawSocket:
		return openRawSocket(localIP)
	default:
		return nil, nil, fmt.Errorf("transport %q is not available on linux", app.Transport)
	}

	tun, err := lib.NewTunTransport(app.TunName)
	if err != nil {
		return nil, nil, err
	}
	if app.Address != "" {
		if err := tun.Configure(app.Address, app.MTU); err != nil {
			tun.Close()
			return nil, nil, err
		}
	}
	app.TunName = tun.Name()
	return tun, nil, nil
}
