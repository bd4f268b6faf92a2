//go:build !linux && !windows && !darwin
// +build !linux,!windows,!darwin

package main

import (
	"fmt"
	"runtime"

	"github.com/Clouded-Sabre/Tun-TCP/config"
	"github.com/Clouded-Sabre/Tun-TCP/lib"
	rs "github.com/Clouded-Sabre/rawsocket/lib"
)

func openTransport(app *config.AppSettings, localIP string) (lib.Transport, *rs.RSCore, error) {
	return nil, nil, fmt.Errorf("no packet transport for %s, cannot open %s", runtime.GOOS, app.TunName)
}
