package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"labstock-system/internal/services/engine"
)

// --- Helpers ---

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// serviceError maps the engine's error taxonomy onto HTTP status codes. The
// message always carries the offending reagent/document, so it is passed
// through verbatim.
func serviceError(c *gin.Context, err error) {
	switch err.(type) {
	case *engine.ValidationError:
		fail(c, http.StatusBadRequest, err.Error())
	case *engine.InsufficientBalanceError:
		fail(c, http.StatusConflict, err.Error())
	case *engine.NoMatchingFrameworkOrderError:
		fail(c, http.StatusNotFound, err.Error())
	case *engine.RequiresConfirmationError:
		fail(c, http.StatusPreconditionRequired, err.Error())
	case *engine.ReferenceIntegrityError:
		fail(c, http.StatusNotFound, err.Error())
	case *engine.ConcurrencyConflictError:
		fail(c, http.StatusConflict, err.Error())
	case *engine.OverReceiptError:
		fail(c, http.StatusBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func parseInt64Param(c *gin.Context, param string) (int64, error) {
	return strconv.ParseInt(c.Param(param), 10, 64)
}

func parseInt64Query(c *gin.Context, param string) int64 {
	str := c.Query(param)
	if str == "" {
		return 0
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return val
}

func parseIntQueryDefault(c *gin.Context, param string, def int) int {
	str := c.Query(param)
	if str == "" {
		return def
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return def
	}
	return val
}
