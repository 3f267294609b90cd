package server

// RegisterRoutes wires every endpoint from the HTTP surface (§6) and
// assembles the middleware chain. Kept separate from bootstrap so Start can
// be tested against a fully-routed handler.
func (s *Server) RegisterRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/status", s.handleStatus)
	s.router.HandleFunc("/metrics", s.handleMetrics)
	s.router.HandleFunc("/submit", s.handleSubmit)
	s.router.HandleFunc("/batches", s.handleBatches)
	s.router.HandleFunc("/batch/", s.handleBatchByID)
	s.router.HandleFunc("/ws", s.handleWS)

	s.handler = RequestID(Logger(CORS(s.router)))
}
