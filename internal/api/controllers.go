package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pair-trader/internal/engine"
	"pair-trader/internal/order"
	"pair-trader/pkg/errs"
)

type triggerRequest struct {
	Action  string         `json:"action" binding:"required,oneof=long short close cancel LONG SHORT CLOSE CANCEL"`
	Options map[string]any `json:"options"`
}

type historyQuery struct {
	Pair  string `form:"pair"`
	Limit int    `form:"limit"`
}

func (q *historyQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondErr maps an error kind onto its status code.
func respondErr(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	if kind == "" {
		kind = errs.Internal
	}
	respondError(c, errs.HTTPStatus(err), string(kind), err.Error())
}

// respondResult writes an executor result. A refused order also fails the
// request so callers do not resubmit it.
func respondResult(c *gin.Context, res order.Result) {
	status := http.StatusOK
	if !res.Success || res.ShouldCancelOrderProcess {
		status = errs.HTTPStatus(res.Error())
		if status < http.StatusBadRequest && status != http.StatusAccepted {
			status = http.StatusUnprocessableEntity
		}
	}
	c.JSON(status, res)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.engine.GetSystemStatus(c.Request.Context())
	if s.metrics != nil {
		c.JSON(http.StatusOK, gin.H{"status": status, "metrics": s.metrics.GetSnapshot()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) getPairs(c *gin.Context) {
	pairs, err := s.engine.GetPairs(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, pairs)
}

// triggerPair admits an action for a pair. The transition itself runs in
// the background, so success is 202 with the admitted state.
func (s *Server) triggerPair(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	ps, err := s.engine.TriggerOrder(c.Request.Context(), c.Param("pair"), req.Action, req.Options)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.log.Info().Str("pair", c.Param("pair")).Str("action", req.Action).Str("user", CurrentUser(c)).Msg("pair triggered")
	c.JSON(http.StatusAccepted, ps)
}

func (s *Server) getOrders(c *gin.Context) {
	orders, err := s.engine.GetOrders(c.Request.Context(), c.Param("pair"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) createOrder(c *gin.Context) {
	var form engine.OrderForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	res := s.engine.CreateOrder(c.Request.Context(), c.Param("pair"), form)
	s.log.Info().Str("pair", c.Param("pair")).Str("side", form.Side).Float64("amount", form.Amount).
		Str("outcome", string(res.Outcome)).Str("user", CurrentUser(c)).Msg("manual order")
	respondResult(c, res)
}

func (s *Server) cancelOrder(c *gin.Context) {
	respondResult(c, s.engine.Cancel(c.Request.Context(), c.Param("pair"), c.Param("id")))
}

func (s *Server) cancelAll(c *gin.Context) {
	respondResult(c, s.engine.CancelAll(c.Request.Context(), c.Param("pair")))
}

func (s *Server) cancelByID(c *gin.Context) {
	respondResult(c, s.engine.CancelByID(c.Request.Context(), c.Param("exchange"), c.Param("id")))
}

func (s *Server) getTrades(c *gin.Context) {
	trades, err := s.engine.Trades(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getExchanges(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Exchanges())
}

func (s *Server) getHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()
	h, err := s.engine.History(c.Request.Context(), q.Pair, q.Limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}
