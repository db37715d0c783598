// Package local is a deterministic in-process queue engine. Clients and
// workers created from one Engine share an in-memory job server: jobs are
// queued per function by priority, handed to workers that can do them,
// and their reports are delivered back to the submitting client's event
// loop in the order the worker raised them.
//
// There is no network, persistence or retry behavior. AddServer only
// records endpoints; an endpoint must match one of the Engine's addresses
// for the connection to succeed.
package local

import (
	"net"
	"strconv"
	"sync/atomic"

	"github.com/nemanja-m/gearlink/pkg/engine"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 4730
)

type Engine struct {
	addrs  map[string]struct{}
	server *server

	nextTaskID    atomic.Uint64
	staleAccesses atomic.Int64
	tasksFreed    atomic.Int64
}

type Option func(*Engine)

// WithAddress makes the engine answer for host:port in addition to the
// default address.
func WithAddress(host string, port int) Option {
	return func(e *Engine) {
		e.addrs[endpoint(host, port)] = struct{}{}
	}
}

// WithServerName sets the server name embedded in job handles.
func WithServerName(name string) Option {
	return func(e *Engine) {
		e.server.name = name
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		addrs:  map[string]struct{}{endpoint(DefaultHost, DefaultPort): {}},
		server: newServer("local"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) NewClient() (engine.ClientConn, error) {
	return newClientConn(e), nil
}

func (e *Engine) NewWorker() (engine.WorkerConn, error) {
	return newWorkerConn(e), nil
}

// Stats is a point-in-time view of engine counters.
type Stats struct {
	// StaleAccesses counts reads or writes through a task reference after
	// the engine freed it. A correct binding keeps this at zero.
	StaleAccesses int64
	TasksFreed    int64
	KnownJobs     int
}

func (e *Engine) Stats() Stats {
	return Stats{
		StaleAccesses: e.staleAccesses.Load(),
		TasksFreed:    e.tasksFreed.Load(),
		KnownJobs:     e.server.statuses.Len(),
	}
}

// Pending returns the number of queued jobs for function.
func (e *Engine) Pending(function string) int {
	return e.server.pending(function)
}

func endpoint(host string, port int) string {
	if host == "" {
		host = DefaultHost
	}
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// conn holds the server list and error state shared by client and worker
// connections.
type conn struct {
	engine  *Engine
	servers []string
	lastErr string
}

func (c *conn) addServer(host string, port int) engine.Status {
	c.servers = append(c.servers, endpoint(host, port))
	return engine.StatusSuccess
}

// connect resolves the connection's server list against the engine.
func (c *conn) connect() (*server, engine.Status) {
	if len(c.servers) == 0 {
		c.lastErr = "no servers added"
		return nil, engine.StatusNoServers
	}
	for _, addr := range c.servers {
		if _, ok := c.engine.addrs[addr]; ok {
			return c.engine.server, engine.StatusSuccess
		}
	}
	c.lastErr = "could not connect to any of " + strconv.Itoa(len(c.servers)) + " servers"
	return nil, engine.StatusCouldNotConnect
}
