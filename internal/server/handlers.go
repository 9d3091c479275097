package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"oracleescrow/internal/escrow"
	"oracleescrow/internal/retry"
)

const (
	routeDeposit = "deposit"
	routeExecute = "execute"
	routeOracle  = "oracle"
	routeState   = "state"
)

type stateResponse struct {
	Address     string    `json:"address"`
	Owner       string    `json:"owner"`
	Depositor   string    `json:"depositor"`
	Beneficiary string    `json:"beneficiary"`
	Oracle      string    `json:"oracle"`
	Expected    string    `json:"expected"`
	OracleValue string    `json:"oracleValue"`
	Expiration  time.Time `json:"expiration"`
	BlockTime   time.Time `json:"blockTime"`
	Expired     bool      `json:"expired"`
	Executed    bool      `json:"executed"`
	BalanceWei  string    `json:"balanceWei"`
}

func newStateResponse(st escrow.State) stateResponse {
	return stateResponse{
		Address:     st.Address.Hex(),
		Owner:       st.Owner.Hex(),
		Depositor:   st.Depositor.Hex(),
		Beneficiary: st.Beneficiary.Hex(),
		Oracle:      st.Oracle.Hex(),
		Expected:    st.Expected,
		OracleValue: st.OracleValue,
		Expiration:  st.Expiration,
		BlockTime:   st.BlockTime,
		Expired:     st.Expired(st.BlockTime),
		Executed:    st.Executed,
		BalanceWei:  st.Balance.String(),
	}
}

type txResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
}

func newTxResponse(receipt *types.Receipt) txResponse {
	return txResponse{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
}

type depositResponse struct {
	txResponse
	BalanceWei string `json:"balanceWei"`
}

type executeResponse struct {
	txResponse
	Caller   string `json:"caller"`
	Outcome  string `json:"outcome"`
	Executed bool   `json:"executed"`
}

type oracleResponse struct {
	txResponse
	Value string `json:"value"`
}

// Outcomes of an executeContract call.
const (
	outcomePaid     = "paid_beneficiary"
	outcomeRefunded = "refunded_depositor"
	outcomeNoop     = "no_op"
	outcomeAlready  = "already_executed"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.escrow.State(r.Context())
	if err != nil {
		s.logger.Error("read escrow state", "err", err)
		s.reply(w, routeState, http.StatusBadGateway, errorResponse{Error: "failed to read escrow state"})
		return
	}
	s.metrics.setBalance(st.Balance)
	s.reply(w, routeState, http.StatusOK, newStateResponse(st))
}

func (s *Server) handleDeposit(ctx context.Context, body []byte) (int, any) {
	var req depositRequest
	if err := s.validate.decode(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}
	amount, ok := new(big.Int).SetString(req.AmountWei, 10)
	if !ok || amount.Sign() <= 0 {
		return http.StatusBadRequest, errorResponse{Error: "amountWei must be a positive integer"}
	}

	receipt, err := s.escrow.Deposit(ctx, amount)
	if err != nil {
		return s.chainFailure(routeDeposit, err)
	}
	resp := depositResponse{txResponse: newTxResponse(receipt)}
	if st, err := s.escrow.State(ctx); err == nil {
		s.metrics.setBalance(st.Balance)
		resp.BalanceWei = st.Balance.String()
	}
	return http.StatusOK, resp
}

func (s *Server) handleExecute(ctx context.Context, body []byte) (int, any) {
	var req executeRequest
	if err := s.validate.decode(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}
	role, err := escrow.ParseRole(req.Caller)
	if err != nil {
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}

	before, err := s.escrow.State(ctx)
	if err != nil {
		return http.StatusBadGateway, errorResponse{Error: "failed to read escrow state"}
	}

	receipt, attempts, err := s.executeWithRetry(ctx, role)
	if err != nil {
		if !escrow.IsRevert(err) && !errors.Is(err, escrow.ErrMissingKey) {
			s.writeDLQ(dlqEntry{Route: routeExecute, Caller: string(role), Attempts: attempts, Error: err.Error()})
		}
		return s.chainFailure(routeExecute, err)
	}

	resp := executeResponse{txResponse: newTxResponse(receipt), Caller: string(role)}
	after, err := s.escrow.State(ctx)
	if err != nil {
		s.logger.Warn("read escrow state after execute", "err", err)
		resp.Outcome = outcomeNoop
		return http.StatusOK, resp
	}
	resp.Executed = after.Executed
	resp.Outcome = executionOutcome(before, after)
	s.metrics.setBalance(after.Balance)
	s.metrics.incExecution(resp.Outcome)
	s.logger.Info("escrow executed", "caller", role, "outcome", resp.Outcome, "tx", resp.TxHash)
	return http.StatusOK, resp
}

func executionOutcome(before, after escrow.State) string {
	switch {
	case before.Executed:
		return outcomeAlready
	case !after.Executed:
		return outcomeNoop
	case after.Matched():
		return outcomePaid
	default:
		return outcomeRefunded
	}
}

func (s *Server) handleOracleUpdate(ctx context.Context, body []byte) (int, any) {
	var req oracleRequest
	if err := s.validate.decode(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	}
	if len(req.Value) > 32 {
		return http.StatusBadRequest, errorResponse{Error: "value must fit in 32 bytes"}
	}

	receipt, err := s.escrow.UpdateOracle(ctx, req.Value)
	if err != nil {
		return s.chainFailure(routeOracle, err)
	}
	return http.StatusOK, oracleResponse{txResponse: newTxResponse(receipt), Value: req.Value}
}

func (s *Server) executeWithRetry(ctx context.Context, role escrow.Role) (*types.Receipt, int, error) {
	attempts := 0
	receipt, err := retry.Do(ctx, s.cfg.Retry, isRetryable,
		func(attempt int, err error, backoff time.Duration) {
			s.metrics.incRetry("retry")
			s.logger.Warn("execute failed, retrying", "caller", role, "attempt", attempt, "backoff", backoff, "err", err)
		},
		func() (*types.Receipt, error) {
			attempts++
			return s.escrow.Execute(ctx, role)
		})
	if err != nil {
		s.metrics.incRetry("failed")
		return nil, attempts, err
	}
	s.metrics.incRetry("success")
	return receipt, attempts, nil
}

// isRetryable excludes failures that would fail the same way again.
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case escrow.IsRevert(err), errors.Is(err, escrow.ErrMissingKey), errors.Is(err, escrow.ErrNonPayable):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// chainFailure maps a failed chain action to a response.
func (s *Server) chainFailure(route string, err error) (int, any) {
	switch {
	case errors.Is(err, escrow.ErrMissingKey):
		return http.StatusServiceUnavailable, errorResponse{Error: err.Error()}
	case escrow.IsRevert(err):
		s.logger.Info("transaction rejected by contract", "route", route, "err", err)
		return http.StatusUnprocessableEntity, errorResponse{Error: "transaction reverted", Reason: escrow.RevertReason(err)}
	default:
		s.logger.Error("chain request failed", "route", route, "err", err)
		return http.StatusBadGateway, errorResponse{Error: err.Error()}
	}
}
