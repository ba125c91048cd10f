package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *server) requestAccess(c *gin.Context) {
	req, err := s.access.RequestAccess(c.Request.Context(), c.GetHeader(HeaderAgentID), c.Param("listingId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", fmt.Sprintf("/agent/listings/%s/access", req.ListingID))
	c.JSON(http.StatusCreated, req)
}

func (s *server) getAgentRequest(c *gin.Context) {
	view, err := s.access.GetAgentRequest(c.Request.Context(), c.GetHeader(HeaderAgentID), c.Param("listingId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *server) listingDetail(c *gin.Context) {
	d, err := s.listings.Detail(c.Request.Context(), c.GetHeader(HeaderAgentID), c.Param("listingId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *server) createPaymentIntent(c *gin.Context) {
	intent, err := s.access.CreatePaymentIntent(c.Request.Context(), c.GetHeader(HeaderAgentID), c.Param("requestId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}
