package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rallypoint/rallypoint/internal/session"
)

// Frontend accepts TCP connections and hands each of them to the Server.
type Frontend struct {
	Address string
	Server  *Server

	mu       sync.Mutex
	listener *net.TCPListener
}

// Start opens the TCP socket. A blocking loop for accepting client connections
// is spun off in its own goroutine and added to the WaitGroup. Context
// cancellation stops the loop and waits for the connections to close.
func (f *Frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)
	return nil
}

// Addr is the address the socket is bound to, once started.
func (f *Frontend) Addr() net.Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return nil
	}
	return f.listener.Addr()
}

func (f *Frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	f.mu.Lock()
	f.listener = socket
	f.mu.Unlock()
	return socket, nil
}

// startBlockingLoop is purely responsible for accepting new connections and
// spinning off goroutines to handle them.
func (f *Frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := f.Server.logger
	logger.Infof("waiting for connections on %v", socket.Addr())

	go func() {
		<-ctx.Done()
		_ = socket.Close()
	}()

	clientWg := &sync.WaitGroup{}
	for {
		connection, err := socket.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Warnf("failed to accept connection: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		clientWg.Add(1)
		go f.acceptClient(ctx, connection, clientWg)
	}

	logger.Info("shutting down (waiting for connections to close)")
	clientWg.Wait()
	logger.Info("frontend exited")
}

func (f *Frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	remote := connection.RemoteAddr().String()
	if !f.Server.Admit(remote) {
		f.Server.logger.Infof("throttled connection from %s", remote)
		_ = connection.Close()
		return
	}

	if err := f.Server.HandleTransport(ctx, session.NewTCPTransport(connection)); err != nil {
		f.Server.logger.Warnf("rejected connection from %s: %v", remote, err)
	}
}
