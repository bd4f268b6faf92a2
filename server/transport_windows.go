//go:build windows
// +build windows

package main

import (
	"fmt"

	"github.com/Clouded-Sabre/Tun-TCP/config"
	"github.com/Clouded-Sabre/Tun-TCP/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
)

// openTransport diverts matching packets with WinDivert unless a raw socket
// is asked for.
func openTransport(app *config.AppSettings, localIP string) (lib.Transport, *rs.RSCore, error) {
	switch app.Transport {
	case "", config.TransportDivert:
		transport, err := lib.NewDivertTransport(app.DivertFilter)
		if err != nil {
			return nil, nil, err
		}
		return transport, nil, nil
	case config.TransportRawSocket:
		return openRawSocket(localIP)
	default:
		return nil, nil, fmt.Errorf("transport %q is not available on windows", app.Transport)
	}
}
