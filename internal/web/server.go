package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/zuohao/fund_dashboard/internal/usecase"
)

type Server struct {
	router *http.ServeMux
	server *http.Server
	ledger *usecase.LedgerService
	funds  *usecase.FundService
	hub    *Hub
	logger *zap.Logger
}

func NewServer(
	port int,
	ledger *usecase.LedgerService,
	funds *usecase.FundService,
	hub *Hub,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router: http.NewServeMux(),
		ledger: ledger,
		funds:  funds,
		hub:    hub,
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Tracked funds
	s.router.HandleFunc("GET /api/fund/list", s.handleListFunds)
	s.router.HandleFunc("POST /api/fund/add", s.handleAddFund)
	s.router.HandleFunc("DELETE /api/fund/{code}", s.handleRemoveFund)

	// Holdings
	s.router.HandleFunc("POST /api/fund/holding", s.handleUpdateHolding)

	// Position records
	s.router.HandleFunc("GET /api/fund/position-records", s.handleListRecords)
	s.router.HandleFunc("DELETE /api/fund/position-records/{id}", s.handleUndoRecord)

	// Dashboard push
	s.router.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
