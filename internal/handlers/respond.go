package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"coinflip-backend/internal/models"
)

var statusByCode = map[models.Code]int{
	models.CodeValidation:         http.StatusBadRequest,
	models.CodeNotFound:           http.StatusNotFound,
	models.CodeRejected:           http.StatusForbidden,
	models.CodeNotJoinable:        http.StatusConflict,
	models.CodeConflict:           http.StatusConflict,
	models.CodeInvalidState:       http.StatusConflict,
	models.CodeOutOfRange:         http.StatusUnprocessableEntity,
	models.CodeInsufficientItems:  http.StatusUnprocessableEntity,
	models.CodeTransactionTimeout: http.StatusServiceUnavailable,
}

func respondError(c *gin.Context, err error) {
	var domainErr *models.Error
	if !errors.As(err, &domainErr) {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	status, ok := statusByCode[domainErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := gin.H{
		"error": domainErr.Message,
		"code":  domainErr.Code,
	}
	if len(domainErr.Metadata) > 0 {
		body["details"] = domainErr.Metadata
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request",
		"code":    models.CodeValidation,
		"details": err.Error(),
	})
}
