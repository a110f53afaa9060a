package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Custodia-Systems/timevault/pkg/archive"
	"github.com/Custodia-Systems/timevault/pkg/auth"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/observability"
)

// maxBodyBytes caps request bodies on mutating routes.
const maxBodyBytes = 1 << 20 // 1MB

// callerIdentity resolves the authenticated caller, writing a 401 when
// the principal is absent.
func callerIdentity(w http.ResponseWriter, r *http.Request) (contracts.Identity, bool) {
	id, err := auth.GetIdentity(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return "", false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.journals != nil {
		if err := s.journals.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness: database unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "timevault",
		"version": s.version,
	})
}

// ---------------------------------------------------------------------------
// Instances
// ---------------------------------------------------------------------------

type createInstanceRequest struct {
	Owner       contracts.Identity `json:"owner"`
	Description string             `json:"description"`
}

// handleInstancesRouter routes /v1/instances and /v1/instances/{id}.
func (s *Server) handleInstancesRouter(w http.ResponseWriter, r *http.Request) {
	id := pathSuffix(r.URL.Path, "/v1/instances")

	switch {
	case id == "" && r.Method == http.MethodPost:
		s.handleCreateInstance(w, r)
	case id == "" && r.Method == http.MethodGet:
		s.handleListInstances(w, r)
	case id != "" && r.Method == http.MethodGet:
		s.handleDescribeInstance(w, r, id)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	info, err := s.dir.Create(caller, req.Owner, req.Description)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	if s.journals != nil {
		if err := s.journals.SaveInstance(r.Context(), info); err != nil {
			s.logger.Warn("instance record persistence failed", "instance", info.ID, "error", err)
		}
	}

	s.logger.Info("instance created", "instance", info.ID, "owner", info.Owner, "creator", info.Creator)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.dir.List(caller))
}

func (s *Server) handleDescribeInstance(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	info, err := s.dir.Describe(id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	// Hide instances the caller neither created nor owns.
	if info.Creator != caller && info.Owner != caller {
		WriteNotFound(w, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ---------------------------------------------------------------------------
// Deposits
// ---------------------------------------------------------------------------

type depositRequest struct {
	Description      string             `json:"description"`
	To               contracts.Identity `json:"to"`
	Amount           int64              `json:"amount"`
	ReleaseTimestamp int64              `json:"release_timestamp"`
}

// handleDepositsRouter routes /v1/deposits and /v1/deposits/{id}.
func (s *Server) handleDepositsRouter(w http.ResponseWriter, r *http.Request) {
	id := pathSuffix(r.URL.Path, "/v1/deposits")

	switch {
	case id == "" && r.Method == http.MethodPost:
		s.handleCreateDeposit(w, r)
	case id == "" && r.Method == http.MethodGet:
		s.handleListDeposits(w, r)
	case id != "" && r.Method == http.MethodGet:
		s.handleGetDeposit(w, r, id)
	case id != "" && r.Method == http.MethodPatch:
		s.handleUpdateDeposit(w, r, id)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.To.Zero() {
		WriteBadRequest(w, "Missing required field: to")
		return
	}
	if req.Amount < 0 {
		WriteBadRequest(w, "Amount must not be negative")
		return
	}

	ctx, finish := s.track(r.Context(), "deposit", tl.ID())
	dep, err := tl.Deposit(ctx, caller, req.Description, req.To, req.Amount, req.ReleaseTimestamp)
	if err == nil {
		observability.AddSpanEvent(ctx, "deposit.created",
			observability.DepositOperation(tl.ID(), dep.ID.String(), dep.Amount, dep.ReleaseTimestamp)...)
	}
	finish(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tl.Deposits(caller))
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request, rawID string) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	depID, err := contracts.ParseDepositID(rawID)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	dep, found := tl.FindDeposit(caller, depID)
	if !found {
		WriteNotFound(w, "deposit not found")
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleUpdateDeposit(w http.ResponseWriter, r *http.Request, rawID string) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	depID, err := contracts.ParseDepositID(rawID)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.To.Zero() {
		WriteBadRequest(w, "Missing required field: to")
		return
	}

	ctx, finish := s.track(r.Context(), "update", tl.ID())
	dep, err := tl.Update(ctx, caller, depID, req.Description, req.To, req.Amount, req.ReleaseTimestamp)
	if err == nil {
		observability.AddSpanEvent(ctx, "deposit.updated",
			observability.DepositOperation(tl.ID(), dep.ID.String(), dep.Amount, dep.ReleaseTimestamp)...)
	}
	finish(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

// ---------------------------------------------------------------------------
// Queue protocol
// ---------------------------------------------------------------------------

type queueRequest struct {
	Target            contracts.Identity  `json:"target"`
	DepositID         contracts.DepositID `json:"deposit_id"`
	FunctionSignature string              `json:"function_signature"`
}

type txRequest struct {
	TxID contracts.TxID `json:"tx_id"`
}

type claimRequest struct {
	DepositID contracts.DepositID `json:"deposit_id"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Target.Zero() || req.DepositID.IsZero() {
		WriteBadRequest(w, "Missing required fields: target, deposit_id")
		return
	}

	ctx, finish := s.track(r.Context(), "queue", tl.ID())
	txID, err := tl.Queue(ctx, caller, req.Target, req.DepositID, req.FunctionSignature)
	entry, found := tl.Queued(txID)
	if err == nil && found {
		observability.AddSpanEvent(ctx, "transaction.queued",
			observability.QueueOperation(tl.ID(), txID.String(), string(entry.Target), entry.Snapshot.ReleaseTimestamp)...)
	}
	finish(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	s.queueDelta(ctx, 1)

	resp := map[string]any{"tx_id": txID}
	if found {
		resp["queued_at"] = entry.QueuedAt
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleQueuedRouter routes /v1/queued (pending list) and /v1/queued/{txId}.
func (s *Server) handleQueuedRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if _, ok := callerIdentity(w, r); !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	raw := pathSuffix(r.URL.Path, "/v1/queued")
	if raw == "" {
		writeJSON(w, http.StatusOK, tl.Pending())
		return
	}

	txID, err := contracts.ParseTxID(raw)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	entry, found := tl.Queued(txID)
	if !found {
		WriteNotFound(w, "transaction not queued")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Target.Zero() || req.DepositID.IsZero() {
		WriteBadRequest(w, "Missing required fields: target, deposit_id")
		return
	}

	ctx, finish := s.track(r.Context(), "execute", tl.ID())
	result, err := tl.Execute(ctx, caller, req.Target, req.DepositID, req.FunctionSignature)
	finish(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	s.queueDelta(ctx, -1)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "EXECUTED",
		"result": result,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req txRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TxID.IsZero() {
		WriteBadRequest(w, "Missing required field: tx_id")
		return
	}

	ctx, finish := s.track(r.Context(), "cancel", tl.ID())
	err := tl.Cancel(ctx, caller, req.TxID)
	if err == nil {
		observability.AddSpanEvent(ctx, "transaction.canceled",
			observability.SettleOperation(tl.ID(), req.TxID.String(), "cancel")...)
	}
	finish(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	s.queueDelta(ctx, -1)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "CANCELED",
		"tx_id":  req.TxID,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.DepositID.IsZero() {
		WriteBadRequest(w, "Missing required field: deposit_id")
		return
	}

	ctx, finish := s.track(r.Context(), "claim", tl.ID())
	err := tl.Claim(ctx, caller, req.DepositID)
	if err == nil {
		observability.AddSpanEvent(ctx, "deposit.claimed",
			observability.ClaimOperation(tl.ID(), req.DepositID.String())...)
	}
	finish(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "CLAIMED",
		"deposit_id": req.DepositID,
	})
}

// handleRoute executes a queued release on behalf of a registered
// instance. The JWT subject must be the custodian identity of exactly
// that instance; any other caller gets a 403.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req txRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TxID.IsZero() {
		WriteBadRequest(w, "Missing required field: tx_id")
		return
	}

	ctx, finish := s.track(r.Context(), "route", "")
	result, err := s.dir.Route(ctx, caller, req.TxID)
	if err == nil {
		observability.AddSpanEvent(ctx, "transaction.executed",
			observability.AttrTxID.String(req.TxID.String()))
	}
	finish(err)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	s.queueDelta(ctx, -1)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "EXECUTED",
		"result": result,
	})
}

// ---------------------------------------------------------------------------
// Journal + export
// ---------------------------------------------------------------------------

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if _, ok := callerIdentity(w, r); !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	journal := tl.Journal()
	entries := journal.Entries()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		entries = journal.ByKind(contracts.EventKind(kind))
	}
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			WriteBadRequest(w, "Invalid limit")
			return
		}
		if limit < len(entries) {
			entries = entries[:limit]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"head":    journal.Head(),
		"length":  journal.Length(),
	})
}

func (s *Server) handleJournalVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if _, ok := callerIdentity(w, r); !ok {
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	valid, reason := tl.Journal().Verify()
	resp := map[string]any{"ok": valid}
	if !valid {
		resp["reason"] = reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if _, ok := callerIdentity(w, r); !ok {
		return
	}
	if s.blobs == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Archive storage is not configured")
		return
	}
	tl, ok := s.instance(w, r)
	if !ok {
		return
	}

	address, err := archive.ExportJournal(r.Context(), s.blobs, tl.ID(), tl.Journal())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	s.logger.Info("journal exported", "instance", tl.ID(), "address", address)
	writeJSON(w, http.StatusOK, map[string]string{"address": address})
}
