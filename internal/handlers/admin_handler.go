package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grant-access/internal/access"
	"github.com/imrishuroy/grant-access/internal/validation"
)

func (s *server) decide(c *gin.Context) {
	var body validation.DecisionRequest
	if err := validation.BindAndValidate(c, &body, s.v); err != nil {
		return
	}
	req, err := s.access.AdminDecide(c.Request.Context(), c.Param("requestId"), body.Action, c.GetHeader(HeaderAdminID),
		access.DecisionOptions{Notes: body.Notes, ChargeAmountCents: body.ChargeAmountCents()})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) listPayments(c *gin.Context) {
	var q validation.ListPaymentsQuery
	if err := validation.BindQueryAndValidate(c, &q, s.v); err != nil {
		return
	}
	page, err := s.access.ListPayments(c.Request.Context(), access.Filter{
		PaymentStatus:  q.PaymentStatus,
		AccessStatus:   q.AccessStatus,
		IncludeDeleted: q.IncludeDeleted,
		Page:           q.Page,
		Limit:          q.Limit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *server) paymentStats(c *gin.Context) {
	st, err := s.access.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) getPayment(c *gin.Context) {
	row, err := s.access.GetRequest(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *server) softDelete(c *gin.Context) {
	var body validation.RecordActionRequest
	if err := validation.BindOptionalAndValidate(c, &body, s.v); err != nil {
		return
	}
	req, err := s.access.SoftDelete(c.Request.Context(), c.Param("requestId"), c.GetHeader(HeaderAdminID), body.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) restore(c *gin.Context) {
	var body validation.RecordActionRequest
	if err := validation.BindOptionalAndValidate(c, &body, s.v); err != nil {
		return
	}
	req, err := s.access.Restore(c.Request.Context(), c.Param("requestId"), c.GetHeader(HeaderAdminID), body.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *server) deletePayment(c *gin.Context) {
	if err := s.access.Delete(c.Request.Context(), c.Param("requestId")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) bulkDelete(c *gin.Context) {
	var body validation.BulkDeleteRequest
	if err := validation.BindAndValidate(c, &body, s.v); err != nil {
		return
	}
	res, err := s.access.BulkDelete(c.Request.Context(), body.RequestIDs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
