package gearlink

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

type server struct {
	host string
	port int
}

// parseServers splits a "host:port,host:port" list. A missing port is left
// at zero so the engine applies its default.
func parseServers(list string) ([]server, error) {
	var servers []server
	for entry := range strings.SplitSeq(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, ":") {
			servers = append(servers, server{host: entry})
			continue
		}
		host, portStr, err := net.SplitHostPort(entry)
		if err != nil {
			return nil, fmt.Errorf("gearlink: invalid server %q: %w", entry, err)
		}
		port := 0
		if portStr != "" {
			port, err = strconv.Atoi(portStr)
			if err != nil || port < 0 || port > 65535 {
				return nil, fmt.Errorf("gearlink: invalid port in server %q", entry)
			}
		}
		servers = append(servers, server{host: host, port: port})
	}
	return servers, nil
}
