//go:build linux || windows || darwin
// +build linux windows darwin

package main

import (
	"github.com/Clouded-Sabre/Tun-TCP/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
)

// openRawSocket listens for TCP on localIP through the raw socket core.
// There is only one core per process; the endpoint closes it on shutdown.
func openRawSocket(localIP string) (lib.Transport, *rs.RSCore, error) {
	rscore, err := rs.NewRSCore(rs.NewDefaultRsConfig())
	if err != nil {
		return nil, nil, err
	}
	transport, err := lib.NewRawSocketTransport(rscore, localIP)
	if err != nil {
		rscore.Close()
		return nil, nil, err
	}
	return transport, &rscore, nil
}
