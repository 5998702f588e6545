package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/liuxinzero07/doris/pkg/config"
	"github.com/liuxinzero07/doris/pkg/metrics"
	"github.com/liuxinzero07/doris/util"
)

// RunServer accepts client connections and feeds them to a fixed worker
// pool. It blocks for the life of the process.
func RunServer(cfg *config.Config, handler *CommandHandler) error {
	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
		util.Info("Prometheus exporter started on port %d", cfg.ExporterPort)
	} else {
		util.Info("Exporter disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.ServePort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	util.Info("Binlog service listening on %s", addr)

	workerCh := make(chan net.Conn, cfg.MaxConnections)
	for i := 0; i < cfg.MaxConnections; i++ {
		go func() {
			for conn := range workerCh {
				HandleConnection(conn, handler)
			}
		}()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			util.Warn("Accept error: %v", err)
			continue
		}
		workerCh <- conn
	}
}

// HandleConnection runs one client's command loop until EOF, EXIT or a
// five-minute idle timeout.
func HandleConnection(conn net.Conn, handler *CommandHandler) {
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		data, err := util.ReadWithLength(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.Debug("Connection closed: %v", err)
			}
			return
		}

		cmd := strings.TrimSpace(string(data))
		if strings.EqualFold(cmd, "EXIT") {
			return
		}

		resp := handler.HandleCommand(cmd)
		if err := util.WriteWithLength(conn, []byte(resp)); err != nil {
			util.Warn("Write response error: %v", err)
			return
		}
	}
}
